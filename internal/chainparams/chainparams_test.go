package chainparams

import "testing"

func TestForKnownTickers(t *testing.T) {
	for _, ticker := range []Ticker{BTC, LTC, BCHN, BCHA, FCH} {
		p, err := For(ticker)
		if err != nil {
			t.Fatalf("For(%s): %v", ticker, err)
		}
		if p.Ticker != ticker {
			t.Fatalf("Ticker mismatch: got %s want %s", p.Ticker, ticker)
		}
		if p.HeaderPoWHash == nil {
			t.Fatalf("%s: HeaderPoWHash not set", ticker)
		}
	}
}

func TestForUnknownTicker(t *testing.T) {
	if _, err := For(Ticker("NOPE")); err == nil {
		t.Fatalf("expected error for unknown ticker")
	}
}

func TestLTCUsesScryptNotSHA256D(t *testing.T) {
	btc, _ := For(BTC)
	ltc, _ := For(LTC)

	header := make([]byte, 80)
	btcHash, err := btc.HeaderPoWHash(header)
	if err != nil {
		t.Fatalf("btc header hash: %v", err)
	}
	ltcHash, err := ltc.HeaderPoWHash(header)
	if err != nil {
		t.Fatalf("ltc header hash: %v", err)
	}
	if btcHash == ltcHash {
		t.Fatalf("LTC consensus hash must differ from BTC's sha256d for the same header")
	}
}

func TestDisplayHashAlwaysSHA256D(t *testing.T) {
	header := make([]byte, 80)
	header[0] = 0x01

	btc, _ := For(BTC)

	btcConsensus, _ := btc.HeaderPoWHash(header)
	ltcDisplay := DisplayHash(header)
	btcDisplay := DisplayHash(header)

	if btcConsensus != btcDisplay {
		t.Fatalf("BTC consensus hash should equal its display hash (both sha256d)")
	}
	if ltcDisplay != btcDisplay {
		t.Fatalf("DisplayHash must be chain-independent (always sha256d)")
	}
}

func TestGetDifficultyBaseline(t *testing.T) {
	if d := GetDifficulty(0x1d00ffff); d != 1.0 {
		t.Fatalf("GetDifficulty(0x1d00ffff) = %v, want 1.0", d)
	}
}

func TestLTCDifficultyFactorAppliedToShareDifficulty(t *testing.T) {
	btc, _ := For(BTC)
	ltc, _ := For(LTC)

	var hash [32]byte
	hash[31] = 0x01 // non-zero hash; internal order puts its most significant byte last

	btcDiff := btc.ShareDifficulty(hash)
	ltcDiff := ltc.ShareDifficulty(hash)

	if ltcDiff != btcDiff*65536 {
		t.Fatalf("LTC share difficulty = %v, want %v (BTC * 65536)", ltcDiff, btcDiff*65536)
	}
}
