// Package coinbase builds the pool's coinbase transaction: a single input
// whose scriptSig carries the BIP-34 height, pool flags, extranonce
// placeholder, and coinbase message, and whose outputs pay the miner (and,
// where the chain profile requires it, the witness commitment, a dev-reward
// graft, or a miner-fund graft). It is grounded on the stratum-facing
// coinbase builders in the wider pool ecosystem, adapted here to work from
// an already-decoded, chain-agnostic template rather than stratum wire
// parts.
package coinbase

import (
	"fmt"
	"strings"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
	"github.com/djkazic/p2pool-go/internal/txcodec"
	"github.com/djkazic/p2pool-go/pkg/util"
)

// defaultMessage is used whenever the configured coinbase message normalizes
// to empty.
const defaultMessage = "/p2pool-go/"

// Payout describes one coinbase output.
type Payout struct {
	Value    int64
	PkScript []byte
}

// Input collects everything the builder needs to assemble a coinbase
// transaction for one job.
type Input struct {
	Height        int64
	Flags         []byte // coinbaseaux.flags, pushed verbatim after the height
	Message       string // pool tag, normalized to "/.../" form
	ScriptTimeTag int64  // a second small-number push, mirroring scriptTime in stratum-style builders

	// ExtraNonce1Size and ExtraNonce2Size size the zero-filled placeholder
	// left in the scriptSig for the pool's split extranonce scheme. The
	// placeholder is overwritten byte-for-byte by the stratum layer before
	// submission; the builder itself only reserves the space and records
	// where it starts.
	ExtraNonce1Size int
	ExtraNonce2Size int

	PayoutValue  int64
	PayoutScript []byte

	// SegWit selects the coinbase version (2 if set, 1 otherwise) and
	// whether a witness reserved-value entry is attached to the input.
	SegWit bool

	// WitnessCommitmentScript, when non-nil, is emitted as a zero-value
	// OP_RETURN output (component F's responsibility to construct).
	WitnessCommitmentScript []byte

	DevReward *bitcoin.CoinbaseDevReward
	MinerFund *bitcoin.MinerFund
}

// Result is the assembled coinbase transaction plus the offsets a caller
// needs to patch in a live extranonce before submission.
type Result struct {
	Tx *txcodec.Transaction

	// ExtraDataOffset is the byte offset, within Tx's scriptSig, of the
	// start of the caller-supplied extra-data region (the coinbaseaux
	// flags and coinbase message).
	ExtraDataOffset int

	// ExtraNonceOffset is the byte offset, within Tx's scriptSig, of the
	// start of the extranonce placeholder.
	ExtraNonceOffset int

	// LegacyExtraDataOffset/WitnessExtraDataOffset and
	// LegacyExtraNonceOffset/WitnessExtraNonceOffset are the same offsets
	// translated into transaction-absolute positions for each wire form,
	// per txcodec.FirstScriptSigOffset.
	LegacyExtraDataOffset   int
	WitnessExtraDataOffset  int
	LegacyExtraNonceOffset  int
	WitnessExtraNonceOffset int
}

// Build assembles the coinbase transaction described by in.
func Build(in Input) (*Result, error) {
	if len(in.PayoutScript) == 0 {
		return nil, fmt.Errorf("coinbase: payout script required")
	}
	if in.PayoutValue < 0 {
		return nil, fmt.Errorf("coinbase: payout value must not be negative")
	}

	heightPush := util.SerializeCoinbaseHeight(in.Height)
	placeholderLen := in.ExtraNonce1Size + in.ExtraNonce2Size

	scriptSig := append([]byte{}, heightPush...)
	extraDataOffset := len(scriptSig)

	scriptSig = append(scriptSig, in.Flags...)
	if in.ScriptTimeTag != 0 {
		scriptSig = append(scriptSig, serializeSmallNumber(in.ScriptTimeTag)...)
	}

	message, _ := ClampMessage(in.Message, len(scriptSig)+placeholderLen, 100)
	scriptSig = append(scriptSig, serializeCoinbaseMessage(message)...)

	extraNonceOffset := len(scriptSig)
	if placeholderLen > 0 {
		scriptSig = append(scriptSig, make([]byte, placeholderLen)...)
	}

	if len(scriptSig) > 100 {
		return nil, fmt.Errorf("coinbase: scriptSig %d bytes exceeds the 100-byte consensus limit", len(scriptSig))
	}

	version := int32(1)
	if in.SegWit {
		version = 2
	}

	txIn := txcodec.TxIn{
		PreviousOutputHash:  [32]byte{},
		PreviousOutputIndex: 0xffffffff,
		ScriptSig:           scriptSig,
		Sequence:            0xffffffff,
	}
	if in.SegWit {
		txIn.Witness = [][]byte{make([]byte, 32)}
	}

	tx := &txcodec.Transaction{
		Version:  version,
		TxIn:     []txcodec.TxIn{txIn},
		LockTime: 0,
	}

	tx.TxOut = buildOutputs(in)

	legacyOffset, err := txcodec.FirstScriptSigOffset(tx, false)
	if err != nil {
		return nil, fmt.Errorf("coinbase: legacy offset: %w", err)
	}
	witnessOffset, err := txcodec.FirstScriptSigOffset(tx, true)
	if err != nil {
		return nil, fmt.Errorf("coinbase: witness offset: %w", err)
	}

	return &Result{
		Tx:                      tx,
		ExtraDataOffset:         extraDataOffset,
		ExtraNonceOffset:        extraNonceOffset,
		LegacyExtraDataOffset:   legacyOffset + extraDataOffset,
		WitnessExtraDataOffset:  witnessOffset + extraDataOffset,
		LegacyExtraNonceOffset:  legacyOffset + extraNonceOffset,
		WitnessExtraNonceOffset: witnessOffset + extraNonceOffset,
	}, nil
}

// buildOutputs emits, in order: the miner payout, the dev-reward graft (if
// present), the miner-fund graft (if present), then the witness commitment
// (value 0, if present). This exact order is byte-significant: it drives
// the coinbase txid and therefore the merkle root.
func buildOutputs(in Input) []txcodec.TxOut {
	outs := []txcodec.TxOut{{Value: in.PayoutValue, PkScript: in.PayoutScript}}

	if in.DevReward != nil && in.DevReward.Value > 0 {
		outs = append(outs, txcodec.TxOut{
			Value:    in.DevReward.Value,
			PkScript: mustHexScript(in.DevReward.ScriptPubKey),
		})
	}

	if in.MinerFund != nil && in.MinerFund.MinimumValue > 0 && len(in.MinerFund.Addresses) > 0 {
		outs = append(outs, txcodec.TxOut{
			Value:    in.MinerFund.MinimumValue,
			PkScript: mustHexScript(in.MinerFund.Addresses[0]),
		})
	}

	if len(in.WitnessCommitmentScript) > 0 {
		outs = append(outs, txcodec.TxOut{Value: 0, PkScript: in.WitnessCommitmentScript})
	}

	return outs
}

// mustHexScript decodes a hex pkScript. The node is trusted to have sent
// well-formed hex in coinbasedevreward/minerfund fields; a malformed value
// here indicates the node itself is broken, so the resulting empty script
// simply produces an invalid (and therefore rejected) block rather than a
// panic.
func mustHexScript(hexScript string) []byte {
	b, err := util.HexToBytes(hexScript)
	if err != nil {
		return nil
	}
	return b
}

// serializeSmallNumber pushes n the way Bitcoin Script encodes small
// integers: OP_1..OP_16 for 1..16, otherwise a minimal little-endian push.
func serializeSmallNumber(n int64) []byte {
	if n >= 1 && n <= 16 {
		return []byte{byte(0x50 + n)}
	}
	var b []byte
	v := n
	neg := v < 0
	if neg {
		v = -v
	}
	for v > 0 {
		b = append(b, byte(v&0xff))
		v >>= 8
	}
	if len(b) == 0 {
		return []byte{0x00}
	}
	if b[len(b)-1]&0x80 != 0 {
		if neg {
			b = append(b, 0x80)
		} else {
			b = append(b, 0x00)
		}
	} else if neg {
		b[len(b)-1] |= 0x80
	}
	return append([]byte{byte(len(b))}, b...)
}

// serializeCoinbaseMessage normalizes msg to "/tag/" form and prefixes it
// with a CompactSize length, per the wider pool ecosystem's convention for
// the pool-identifying arbitrary-data push.
func serializeCoinbaseMessage(msg string) []byte {
	normalized := normalizeMessage(msg)
	body := []byte(normalized)
	return append(util.WriteVarInt(uint64(len(body))), body...)
}

func normalizeMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return defaultMessage
	}
	msg = strings.TrimPrefix(msg, "/")
	msg = strings.TrimSuffix(msg, "/")
	return "/" + msg + "/"
}

// ClampMessage trims msg so that, combined with the rest of the fixed
// scriptSig overhead described by fixedLen, the scriptSig stays within
// limit bytes (Build passes the consensus 100-byte scriptSig limit). It
// reports whether it had to truncate.
func ClampMessage(msg string, fixedLen int, limit int) (string, bool) {
	if limit <= 0 {
		return msg, false
	}
	allowed := limit - fixedLen
	if allowed <= 0 {
		return "", true
	}

	normalized := normalizeMessage(msg)
	if len(serializeCoinbaseMessage(stripSlashes(normalized))) <= allowed {
		return stripSlashes(normalized), false
	}

	body := stripSlashes(normalized)
	for len(body) > 0 {
		body = body[:len(body)-1]
		if len(serializeCoinbaseMessage(body)) <= allowed {
			return body, true
		}
	}
	return "", true
}

func stripSlashes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
		return s[1 : len(s)-1]
	}
	return s
}
