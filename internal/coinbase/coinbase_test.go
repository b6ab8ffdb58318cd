package coinbase

import (
	"bytes"
	"testing"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
	"github.com/djkazic/p2pool-go/internal/txcodec"
)

func TestBuildSinglePayout(t *testing.T) {
	result, err := Build(Input{
		Height:          800000,
		Message:         "test-pool",
		ExtraNonce1Size: 4,
		ExtraNonce2Size: 4,
		PayoutValue:     5000000000,
		PayoutScript:    []byte{0x76, 0xa9, 0x14},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Tx.TxOut) != 1 {
		t.Fatalf("expected 1 output, got %d", len(result.Tx.TxOut))
	}
	if result.Tx.TxOut[0].Value != 5000000000 {
		t.Fatalf("payout value = %d, want 5000000000", result.Tx.TxOut[0].Value)
	}

	data := result.Tx.Serialize(false)
	placeholder := data[result.LegacyExtraNonceOffset : result.LegacyExtraNonceOffset+8]
	if !bytes.Equal(placeholder, make([]byte, 8)) {
		t.Fatalf("extranonce placeholder not zero-filled: %x", placeholder)
	}

	decoded, _, err := txcodec.Deserialize(data)
	if err != nil {
		t.Fatalf("round-trip decode: %v", err)
	}
	if len(decoded.TxIn) != 1 || decoded.TxIn[0].PreviousOutputIndex != 0xffffffff {
		t.Fatalf("coinbase input shape wrong: %+v", decoded.TxIn)
	}
}

func TestBuildWithWitnessCommitment(t *testing.T) {
	commitment := bytes.Repeat([]byte{0xAB}, 32)
	script := append([]byte{0x6a, 0x24, 0xaa, 0x21, 0xa9, 0xed}, commitment...)

	result, err := Build(Input{
		Height:                  800000,
		ExtraNonce1Size:         4,
		ExtraNonce2Size:         4,
		PayoutValue:             5000000000,
		PayoutScript:            []byte{0x76, 0xa9, 0x14},
		SegWit:                  true,
		WitnessCommitmentScript: script,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Tx.TxOut) != 2 {
		t.Fatalf("expected 2 outputs (payout + commitment), got %d", len(result.Tx.TxOut))
	}
	if result.Tx.TxOut[0].Value != 5000000000 {
		t.Fatalf("expected payout output first, got value %d", result.Tx.TxOut[0].Value)
	}
	if result.Tx.TxOut[1].Value != 0 {
		t.Fatalf("witness commitment output must carry zero value")
	}
	if !bytes.Equal(result.Tx.TxOut[1].PkScript, script) {
		t.Fatalf("commitment script not preserved")
	}
	if result.Tx.Version != 2 {
		t.Fatalf("segwit coinbase version = %d, want 2", result.Tx.Version)
	}
}

func TestBuildWithDevRewardGraft(t *testing.T) {
	result, err := Build(Input{
		Height:          700000,
		ExtraNonce1Size: 4,
		ExtraNonce2Size: 4,
		PayoutValue:     9000000,
		PayoutScript:    []byte{0x76, 0xa9, 0x14},
		DevReward: &bitcoin.CoinbaseDevReward{
			Value:        1000000,
			ScriptPubKey: "76a914aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa88ac",
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Tx.TxOut) != 2 {
		t.Fatalf("expected 2 outputs (payout + dev), got %d", len(result.Tx.TxOut))
	}
	if result.Tx.TxOut[0].Value != 9000000 {
		t.Fatalf("expected payout output first, got value %d", result.Tx.TxOut[0].Value)
	}
	if result.Tx.TxOut[1].Value != 1000000 {
		t.Fatalf("dev reward value = %d, want 1000000", result.Tx.TxOut[1].Value)
	}
}

func TestBuildRejectsMissingPayoutScript(t *testing.T) {
	_, err := Build(Input{Height: 1, PayoutValue: 1})
	if err == nil {
		t.Fatalf("expected error for missing payout script")
	}
}

func TestClampMessageTruncatesWhenOverLimit(t *testing.T) {
	msg, truncated := ClampMessage("a-very-long-pool-tag-that-does-not-fit", 10, 20)
	if !truncated {
		t.Fatalf("expected truncation to be reported")
	}
	if len(msg) == 0 {
		t.Fatalf("expected a non-empty clamped message")
	}
}

func TestBuildClampsOversizedMessageInsteadOfFailing(t *testing.T) {
	result, err := Build(Input{
		Height:          700000,
		ExtraNonce1Size: 4,
		ExtraNonce2Size: 4,
		PayoutValue:     9000000,
		PayoutScript:    []byte{0x76, 0xa9, 0x14},
		Message:         "this pool tag is deliberately far too long to fit inside the remaining scriptSig budget",
	})
	if err != nil {
		t.Fatalf("Build should clamp an oversized message rather than fail: %v", err)
	}
	if len(result.Tx.TxIn[0].ScriptSig) > 100 {
		t.Fatalf("scriptSig %d bytes exceeds the 100-byte limit despite clamping", len(result.Tx.TxIn[0].ScriptSig))
	}
}

func TestClampMessageNoopUnderLimit(t *testing.T) {
	msg, truncated := ClampMessage("short", 5, 100)
	if truncated {
		t.Fatalf("did not expect truncation")
	}
	if msg != "short" {
		t.Fatalf("message changed unexpectedly: %q", msg)
	}
}
