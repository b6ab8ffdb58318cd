// Package witness computes and recognizes the SegWit witness commitment
// carried in a coinbase output, per BIP-141: SHA-256d(witness merkle root ‖
// 32-byte reserved value), wrapped in an OP_RETURN output whose script
// starts with the magic bytes 0xaa21a9ed.
package witness

import (
	"bytes"
	"fmt"

	"github.com/djkazic/p2pool-go/internal/merkle"
	"github.com/djkazic/p2pool-go/pkg/util"
)

// MagicBytes prefixes the commitment data push: OP_RETURN, a 36-byte data
// push opcode, then the four-byte commitment header.
var MagicBytes = []byte{0x6a, 0x24, 0xaa, 0x21, 0xa9, 0xed}

// ScriptLen is the total length of a well-formed witness commitment
// output script: 6 magic/opcode bytes plus the 32-byte commitment.
const ScriptLen = 38

// ReservedValue is the nonce mixed into the commitment preimage. A miner
// that cares about malleating this value would carry it in the coinbase
// witness stack; this assembler always uses the all-zero value BIP-141
// permits when no such malleation is needed.
var ReservedValue [32]byte

// Tx is the minimal transaction shape the commitment computation needs:
// an ordered list of per-transaction (txid, wtxid) pairs, coinbase first.
type Tx struct {
	Txid  [32]byte
	Wtxid [32]byte
}

// HasWitnessData reports whether any non-coinbase transaction in txs
// carries witness data, i.e. whether its wtxid differs from its txid.
func HasWitnessData(txs []Tx) bool {
	for i, tx := range txs {
		if i == 0 {
			continue
		}
		if tx.Txid != tx.Wtxid {
			return true
		}
	}
	return false
}

// Commitment computes the witness commitment for txs, whose first entry
// must be the coinbase. Per BIP-141 the coinbase's own leaf in the witness
// merkle tree is the zero hash, regardless of its real wtxid.
func Commitment(txs []Tx) [32]byte {
	leaves := make([][32]byte, len(txs))
	for i, tx := range txs {
		if i == 0 {
			leaves[i] = [32]byte{}
			continue
		}
		leaves[i] = tx.Wtxid
	}
	root := merkle.Root(leaves)

	preimage := make([]byte, 64)
	copy(preimage[:32], root[:])
	copy(preimage[32:], ReservedValue[:])
	return util.DoubleSHA256(preimage)
}

// Script builds the 38-byte OP_RETURN output script carrying commitment.
func Script(commitment [32]byte) []byte {
	out := make([]byte, 0, ScriptLen)
	out = append(out, MagicBytes...)
	out = append(out, commitment[:]...)
	return out
}

// Extract locates a witness commitment within a set of candidate coinbase
// output scripts, scanning from the last output to the first per BIP-141
// (if multiple candidates exist, the last one is authoritative). It
// returns the 32-byte commitment and true if found.
func Extract(pkScripts [][]byte) ([32]byte, bool) {
	for i := len(pkScripts) - 1; i >= 0; i-- {
		script := pkScripts[i]
		if len(script) >= ScriptLen && bytes.HasPrefix(script, MagicBytes) {
			var commitment [32]byte
			copy(commitment[:], script[len(MagicBytes):ScriptLen])
			return commitment, true
		}
	}
	return [32]byte{}, false
}

// Validate recomputes the commitment from txs and compares it against the
// one extracted from the coinbase's outputs. It returns an error describing
// any mismatch or structural problem; a block with no witness transactions
// and no commitment output is valid and returns nil.
func Validate(txs []Tx, coinbasePkScripts [][]byte) error {
	commitment, found := Extract(coinbasePkScripts)
	if !found {
		if HasWitnessData(txs) {
			return fmt.Errorf("witness: block has witness transactions but no witness commitment")
		}
		return nil
	}

	computed := Commitment(txs)
	if computed != commitment {
		return fmt.Errorf("witness: commitment mismatch: computed %x, coinbase carries %x", computed, commitment)
	}
	return nil
}
