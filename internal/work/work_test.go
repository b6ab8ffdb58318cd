package work

import (
	"encoding/hex"
	"testing"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
	"github.com/djkazic/p2pool-go/internal/chainparams"
	"github.com/djkazic/p2pool-go/internal/txcodec"
)

func sampleTemplateTx(t *testing.T, seq uint32) bitcoin.TemplateTransaction {
	t.Helper()
	tx := &txcodec.Transaction{
		Version: 1,
		TxIn: []txcodec.TxIn{{
			PreviousOutputIndex: 0,
			ScriptSig:           []byte{0x51},
			Sequence:            seq,
		}},
		TxOut: []txcodec.TxOut{{
			Value:    100000,
			PkScript: []byte{0x51},
		}},
	}
	data := tx.Serialize(false)
	txid := tx.Txid()
	txidDisplay := reverseHex(txid[:])
	return bitcoin.TemplateTransaction{
		Data: hex.EncodeToString(data),
		TxID: txidDisplay,
		Hash: txidDisplay,
		Fee:  1000,
	}
}

// sampleWitnessTemplateTx builds a template transaction carrying witness
// data, so its txid (legacy serialization) differs from its hash (witness
// serialization) exactly as a real SegWit spend would.
func sampleWitnessTemplateTx(t *testing.T, seq uint32) bitcoin.TemplateTransaction {
	t.Helper()
	tx := &txcodec.Transaction{
		Version: 1,
		TxIn: []txcodec.TxIn{{
			PreviousOutputIndex: 0,
			ScriptSig:           []byte{},
			Sequence:            seq,
			Witness:             [][]byte{{0x01, 0x02, 0x03}},
		}},
		TxOut: []txcodec.TxOut{{
			Value:    100000,
			PkScript: []byte{0x00, 0x14},
		}},
	}
	witnessData := tx.Serialize(true)
	txid := tx.Txid()
	wtxid := tx.Wtxid()
	return bitcoin.TemplateTransaction{
		Data: hex.EncodeToString(witnessData),
		TxID: reverseHex(txid[:]),
		Hash: reverseHex(wtxid[:]),
		Fee:  1000,
	}
}

func sampleWitnessTemplate(t *testing.T) *bitcoin.BlockTemplate {
	t.Helper()
	return &bitcoin.BlockTemplate{
		Version:                  1,
		PreviousBlockHash:        "0000000000000000000000000000000000000000000000000000000000000000",
		Transactions:             []bitcoin.TemplateTransaction{sampleWitnessTemplateTx(t, 1)},
		CoinbaseValue:            5000000000,
		Bits:                     "1d00ffff",
		CurTime:                  1700000000,
		Height:                   800000,
		DefaultWitnessCommitment: "",
	}
}

func reverseHex(b []byte) string {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return hex.EncodeToString(out)
}

func sampleTemplate(t *testing.T) *bitcoin.BlockTemplate {
	t.Helper()
	return &bitcoin.BlockTemplate{
		Version:                  1,
		PreviousBlockHash:        "0000000000000000000000000000000000000000000000000000000000000a",
		Transactions:             []bitcoin.TemplateTransaction{sampleTemplateTx(t, 1), sampleTemplateTx(t, 2)},
		CoinbaseValue:            5000000000,
		Bits:                     "1d00ffff",
		CurTime:                  1700000000,
		Height:                   800000,
		DefaultWitnessCommitment: "",
	}
}

func TestLoadFromTemplateTransitionsToLoaded(t *testing.T) {
	params, _ := chainparams.For(chainparams.BTC)
	w := New(params)

	tmpl := sampleTemplate(t)
	// PreviousBlockHash above is 31 bytes (62 hex chars) by construction
	// mistake-proofing: replace it with a valid 32-byte (64 hex char) value.
	tmpl.PreviousBlockHash = "0000000000000000000000000000000000000000000000000000000000000000"

	err := w.LoadFromTemplate(tmpl, []byte{0x76, 0xa9, 0x14}, "test-pool", 4, 4, 10)
	if err != nil {
		t.Fatalf("LoadFromTemplate: %v", err)
	}
	if w.State() != StateLoaded {
		t.Fatalf("state = %s, want loaded", w.State())
	}
}

func TestLoadFromTemplateRejectsEmptyPayoutScript(t *testing.T) {
	params, _ := chainparams.For(chainparams.BTC)
	w := New(params)
	tmpl := sampleTemplate(t)
	tmpl.PreviousBlockHash = "0000000000000000000000000000000000000000000000000000000000000000"

	err := w.LoadFromTemplate(tmpl, nil, "test-pool", 4, 4, 10)
	if err == nil {
		t.Fatalf("expected error for empty payout script")
	}
	te, ok := err.(*TemplateError)
	if !ok || te.Kind != AddressMismatch {
		t.Fatalf("expected AddressMismatch TemplateError, got %v", err)
	}
}

func TestMutateRequiresLoadedOrMutatedState(t *testing.T) {
	params, _ := chainparams.For(chainparams.BTC)
	w := New(params)
	if err := w.Mutate(); err == nil {
		t.Fatalf("expected error mutating a New work")
	}
}

func TestPrepareForSubmitAndBuildBlockRoundTrip(t *testing.T) {
	params, _ := chainparams.For(chainparams.BTC)
	w := New(params)
	tmpl := sampleTemplate(t)
	tmpl.PreviousBlockHash = "0000000000000000000000000000000000000000000000000000000000000000"

	if err := w.LoadFromTemplate(tmpl, []byte{0x76, 0xa9, 0x14}, "test-pool", 4, 4, 10); err != nil {
		t.Fatalf("LoadFromTemplate: %v", err)
	}

	sub := Submission{
		ExtraNonce1: []byte{0xDE, 0xAD, 0xBE, 0xEF},
		ExtraNonce2: []byte{0x00, 0x00, 0x00, 0x01},
		NTime:       1700000123,
		Nonce:       42,
	}
	if err := w.PrepareForSubmit(sub); err != nil {
		t.Fatalf("PrepareForSubmit: %v", err)
	}
	if w.State() != StateSubmitting {
		t.Fatalf("state = %s, want submitting", w.State())
	}

	blockHex, err := w.BuildBlock()
	if err != nil {
		t.Fatalf("BuildBlock: %v", err)
	}
	blockBytes, err := hex.DecodeString(blockHex)
	if err != nil {
		t.Fatalf("BuildBlock did not return valid hex: %v", err)
	}
	if len(blockBytes) < 80 {
		t.Fatalf("block shorter than a header: %d bytes", len(blockBytes))
	}

	// The extranonce bytes must appear in the coinbase at the recorded offset.
	legacyOffset, _ := w.CoinbaseOffsets()
	if legacyOffset+8 > len(w.coinbaseLegacy) {
		t.Fatalf("legacy offset out of range")
	}
	injected := w.coinbaseLegacy[legacyOffset : legacyOffset+8]
	want := append(append([]byte{}, sub.ExtraNonce1...), sub.ExtraNonce2...)
	for i := range want {
		if injected[i] != want[i] {
			t.Fatalf("extranonce not injected at recorded offset: got %x want %x", injected, want)
		}
	}

	w.Finish(true)
	if w.State() != StateAccepted {
		t.Fatalf("state = %s, want accepted", w.State())
	}
}

func TestBuildBlockTakesLegacyPathWithoutWitnessData(t *testing.T) {
	params, _ := chainparams.For(chainparams.BTC)
	w := New(params)
	tmpl := sampleTemplate(t)
	tmpl.PreviousBlockHash = "0000000000000000000000000000000000000000000000000000000000000000"

	if err := w.LoadFromTemplate(tmpl, []byte{0x76, 0xa9, 0x14}, "test-pool", 4, 4, 10); err != nil {
		t.Fatalf("LoadFromTemplate: %v", err)
	}
	if w.segwit {
		t.Fatalf("expected segwit=false for a template with no witness transactions")
	}

	if err := w.PrepareForSubmit(Submission{
		ExtraNonce1: []byte{0xDE, 0xAD, 0xBE, 0xEF},
		ExtraNonce2: []byte{0x00, 0x00, 0x00, 0x01},
		NTime:       1700000123,
		Nonce:       42,
	}); err != nil {
		t.Fatalf("PrepareForSubmit: %v", err)
	}

	blockHex, err := w.BuildBlock()
	if err != nil {
		t.Fatalf("BuildBlock: %v", err)
	}
	blockBytes, err := hex.DecodeString(blockHex)
	if err != nil {
		t.Fatalf("BuildBlock did not return valid hex: %v", err)
	}

	// The coinbase immediately follows the 80-byte header and the tx-count
	// varint (3 txs: coinbase + 2 selected); a legacy (non-segwit) build
	// must not carry the 0x00 0x01 marker/flag pair after its 4-byte version.
	coinbaseStart := 80 + 1
	if blockBytes[coinbaseStart+4] == 0x00 && blockBytes[coinbaseStart+5] == 0x01 {
		t.Fatalf("legacy build emitted a witness marker/flag in the coinbase")
	}
}

func TestBuildBlockTakesWitnessPathWithWitnessData(t *testing.T) {
	params, _ := chainparams.For(chainparams.BTC)
	w := New(params)
	tmpl := sampleWitnessTemplate(t)

	if err := w.LoadFromTemplate(tmpl, []byte{0x76, 0xa9, 0x14}, "test-pool", 4, 4, 10); err != nil {
		t.Fatalf("LoadFromTemplate: %v", err)
	}
	if !w.segwit {
		t.Fatalf("expected segwit=true for a template with a witness transaction")
	}

	if err := w.PrepareForSubmit(Submission{
		ExtraNonce1: []byte{0xDE, 0xAD, 0xBE, 0xEF},
		ExtraNonce2: []byte{0x00, 0x00, 0x00, 0x01},
		NTime:       1700000123,
		Nonce:       42,
	}); err != nil {
		t.Fatalf("PrepareForSubmit: %v", err)
	}

	blockHex, err := w.BuildBlock()
	if err != nil {
		t.Fatalf("BuildBlock: %v", err)
	}
	blockBytes, err := hex.DecodeString(blockHex)
	if err != nil {
		t.Fatalf("BuildBlock did not return valid hex: %v", err)
	}

	// coinbase starts right after the 80-byte header and a single-byte
	// varint (2 txs: coinbase + 1 selected witness tx); the marker/flag pair
	// follows the coinbase's 4-byte version.
	coinbaseStart := 80 + 1
	if blockBytes[coinbaseStart+4] != 0x00 || blockBytes[coinbaseStart+5] != 0x01 {
		t.Fatalf("segwit build did not emit the witness marker/flag in the coinbase")
	}

	decoded, _, err := txcodec.Deserialize(blockBytes[coinbaseStart:])
	if err != nil {
		t.Fatalf("decode coinbase from block bytes: %v", err)
	}
	if len(decoded.TxIn) != 1 || len(decoded.TxIn[0].Witness) != 1 {
		t.Fatalf("expected a single-entry witness stack on the coinbase input")
	}
	if len(decoded.TxIn[0].Witness[0]) != 32 {
		t.Fatalf("expected the 32-byte reserved witness value, got %d bytes", len(decoded.TxIn[0].Witness[0]))
	}
	for _, b := range decoded.TxIn[0].Witness[0] {
		if b != 0 {
			t.Fatalf("expected an all-zero reserved witness value")
		}
	}
}

func TestCheckConsensusAgainstEasyTarget(t *testing.T) {
	params, _ := chainparams.For(chainparams.BTC)
	w := New(params)
	tmpl := sampleTemplate(t)
	tmpl.PreviousBlockHash = "0000000000000000000000000000000000000000000000000000000000000000"
	// 0x7fffff << (8*(0x21-3)) exceeds 2^256, so every header hash meets it.
	// (Regtest's 207fffff is only about 2^255 and is missed by half of all hashes.)
	tmpl.Bits = "217fffff"

	if err := w.LoadFromTemplate(tmpl, []byte{0x76, 0xa9, 0x14}, "test-pool", 4, 4, 10); err != nil {
		t.Fatalf("LoadFromTemplate: %v", err)
	}

	ok, shareDiff, err := w.CheckConsensus()
	if err != nil {
		t.Fatalf("CheckConsensus: %v", err)
	}
	if !ok {
		t.Fatalf("expected an effectively-zero-difficulty target to always be met")
	}
	if shareDiff < 0 {
		t.Fatalf("share difficulty should not be negative: %v", shareDiff)
	}
}
