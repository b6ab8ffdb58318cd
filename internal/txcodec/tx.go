// Package txcodec serializes and deserializes Bitcoin-family transactions
// in both legacy and SegWit-witness wire forms, and locates the byte offset
// of the first scriptSig within either form — the anchor the coinbase
// builder uses to translate scriptSig-local extranonce offsets into
// transaction-absolute offsets.
package txcodec

import (
	"encoding/binary"
	"fmt"

	"github.com/djkazic/p2pool-go/pkg/util"
)

// TxIn is one transaction input.
type TxIn struct {
	PreviousOutputHash  [32]byte
	PreviousOutputIndex uint32
	ScriptSig           []byte
	Sequence            uint32
	Witness             [][]byte // only populated/serialized in witness form
}

// TxOut is one transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// Transaction is a decoded Bitcoin-family transaction.
type Transaction struct {
	Version  int32
	TxIn     []TxIn
	TxOut    []TxOut
	LockTime uint32
}

// HasWitness reports whether any input carries witness data, i.e. whether
// the witness serialization differs from the legacy one.
func (tx *Transaction) HasWitness() bool {
	for _, in := range tx.TxIn {
		if len(in.Witness) > 0 {
			return true
		}
	}
	return false
}

// Serialize encodes tx per spec.md §3: the legacy form when witness is
// false, or the SegWit marker/flag form (with witness stacks) when true.
func (tx *Transaction) Serialize(witness bool) []byte {
	var buf []byte

	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], uint32(tx.Version))
	buf = append(buf, verBuf[:]...)

	if witness {
		buf = append(buf, 0x00, 0x01) // marker, flag
	}

	buf = append(buf, util.WriteVarInt(uint64(len(tx.TxIn)))...)
	for _, in := range tx.TxIn {
		buf = append(buf, serializeTxIn(in)...)
	}

	buf = append(buf, util.WriteVarInt(uint64(len(tx.TxOut)))...)
	for _, out := range tx.TxOut {
		buf = append(buf, serializeTxOut(out)...)
	}

	if witness {
		for _, in := range tx.TxIn {
			buf = append(buf, util.WriteVarInt(uint64(len(in.Witness)))...)
			for _, item := range in.Witness {
				buf = append(buf, util.WriteVarInt(uint64(len(item)))...)
				buf = append(buf, item...)
			}
		}
	}

	var lockBuf [4]byte
	binary.LittleEndian.PutUint32(lockBuf[:], tx.LockTime)
	buf = append(buf, lockBuf[:]...)

	return buf
}

func serializeTxIn(in TxIn) []byte {
	var buf []byte
	buf = append(buf, in.PreviousOutputHash[:]...)
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], in.PreviousOutputIndex)
	buf = append(buf, idx[:]...)
	buf = append(buf, util.WriteVarInt(uint64(len(in.ScriptSig)))...)
	buf = append(buf, in.ScriptSig...)
	var seq [4]byte
	binary.LittleEndian.PutUint32(seq[:], in.Sequence)
	buf = append(buf, seq[:]...)
	return buf
}

func serializeTxOut(out TxOut) []byte {
	var buf []byte
	var val [8]byte
	binary.LittleEndian.PutUint64(val[:], uint64(out.Value))
	buf = append(buf, val[:]...)
	buf = append(buf, util.WriteVarInt(uint64(len(out.PkScript)))...)
	buf = append(buf, out.PkScript...)
	return buf
}

// Deserialize decodes a transaction from its wire form, auto-detecting the
// SegWit marker/flag. It returns the number of bytes consumed. An error is
// returned if the buffer is short; unread trailing bytes are not checked
// here — callers that require "no trailing bytes" should compare the
// returned count against len(data).
func Deserialize(data []byte) (*Transaction, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("transaction too short: %d bytes", len(data))
	}
	pos := 0
	tx := &Transaction{}
	tx.Version = int32(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4

	witness := false
	if len(data) >= pos+2 && data[pos] == 0x00 && data[pos+1] == 0x01 {
		witness = true
		pos += 2
	}

	inCount, n, err := util.ReadVarInt(data[pos:])
	if err != nil {
		return nil, 0, fmt.Errorf("read txin count: %w", err)
	}
	pos += n

	tx.TxIn = make([]TxIn, inCount)
	for i := range tx.TxIn {
		in, n, err := deserializeTxIn(data[pos:])
		if err != nil {
			return nil, 0, fmt.Errorf("read txin %d: %w", i, err)
		}
		tx.TxIn[i] = in
		pos += n
	}

	outCount, n, err := util.ReadVarInt(data[pos:])
	if err != nil {
		return nil, 0, fmt.Errorf("read txout count: %w", err)
	}
	pos += n

	tx.TxOut = make([]TxOut, outCount)
	for i := range tx.TxOut {
		out, n, err := deserializeTxOut(data[pos:])
		if err != nil {
			return nil, 0, fmt.Errorf("read txout %d: %w", i, err)
		}
		tx.TxOut[i] = out
		pos += n
	}

	if witness {
		for i := range tx.TxIn {
			itemCount, n, err := util.ReadVarInt(data[pos:])
			if err != nil {
				return nil, 0, fmt.Errorf("read witness count for input %d: %w", i, err)
			}
			pos += n
			items := make([][]byte, itemCount)
			for j := range items {
				itemLen, n, err := util.ReadVarInt(data[pos:])
				if err != nil {
					return nil, 0, fmt.Errorf("read witness item len: %w", err)
				}
				pos += n
				if len(data) < pos+int(itemLen) {
					return nil, 0, fmt.Errorf("witness item truncated")
				}
				items[j] = append([]byte(nil), data[pos:pos+int(itemLen)]...)
				pos += int(itemLen)
			}
			tx.TxIn[i].Witness = items
		}
	}

	if len(data) < pos+4 {
		return nil, 0, fmt.Errorf("transaction truncated before locktime")
	}
	tx.LockTime = binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4

	return tx, pos, nil
}

func deserializeTxIn(data []byte) (TxIn, int, error) {
	var in TxIn
	if len(data) < 36 {
		return in, 0, fmt.Errorf("txin prefix truncated")
	}
	copy(in.PreviousOutputHash[:], data[0:32])
	in.PreviousOutputIndex = binary.LittleEndian.Uint32(data[32:36])
	pos := 36

	scriptLen, n, err := util.ReadVarInt(data[pos:])
	if err != nil {
		return in, 0, fmt.Errorf("read scriptSig len: %w", err)
	}
	pos += n
	if len(data) < pos+int(scriptLen) {
		return in, 0, fmt.Errorf("scriptSig truncated")
	}
	in.ScriptSig = append([]byte(nil), data[pos:pos+int(scriptLen)]...)
	pos += int(scriptLen)

	if len(data) < pos+4 {
		return in, 0, fmt.Errorf("sequence truncated")
	}
	in.Sequence = binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4

	return in, pos, nil
}

func deserializeTxOut(data []byte) (TxOut, int, error) {
	var out TxOut
	if len(data) < 8 {
		return out, 0, fmt.Errorf("txout value truncated")
	}
	out.Value = int64(binary.LittleEndian.Uint64(data[0:8]))
	pos := 8

	scriptLen, n, err := util.ReadVarInt(data[pos:])
	if err != nil {
		return out, 0, fmt.Errorf("read pkScript len: %w", err)
	}
	pos += n
	if len(data) < pos+int(scriptLen) {
		return out, 0, fmt.Errorf("pkScript truncated")
	}
	out.PkScript = append([]byte(nil), data[pos:pos+int(scriptLen)]...)
	pos += int(scriptLen)

	return out, pos, nil
}

// FirstScriptSigOffset returns the byte position, within tx serialized in
// the requested form, of the first input's scriptSig content — i.e. the
// byte immediately following its CompactSize length prefix. The coinbase
// builder uses this to translate a scriptSig-local offset into a
// transaction-absolute one.
func FirstScriptSigOffset(tx *Transaction, witness bool) (int, error) {
	if len(tx.TxIn) == 0 {
		return 0, fmt.Errorf("transaction has no inputs")
	}

	pos := 4 // version
	if witness {
		pos += 2 // marker, flag
	}
	pos += len(util.WriteVarInt(uint64(len(tx.TxIn))))
	pos += 32 + 4 // previous output hash + index of the first input
	pos += len(util.WriteVarInt(uint64(len(tx.TxIn[0].ScriptSig))))

	return pos, nil
}

// Txid returns the double-SHA256 of the legacy serialization.
func (tx *Transaction) Txid() [32]byte {
	return util.DoubleSHA256(tx.Serialize(false))
}

// Wtxid returns the double-SHA256 of the witness serialization. For a
// non-witness transaction this equals Txid().
func (tx *Transaction) Wtxid() [32]byte {
	if !tx.HasWitness() {
		return tx.Txid()
	}
	return util.DoubleSHA256(tx.Serialize(true))
}
