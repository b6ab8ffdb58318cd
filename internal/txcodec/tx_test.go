package txcodec

import (
	"bytes"
	"testing"
)

func sampleLegacyTx() *Transaction {
	return &Transaction{
		Version: 1,
		TxIn: []TxIn{{
			PreviousOutputIndex: 0xffffffff,
			ScriptSig:           []byte{0x01, 0x02, 0x03},
			Sequence:            0xffffffff,
		}},
		TxOut: []TxOut{{
			Value:    5000000000,
			PkScript: []byte{0x76, 0xa9, 0x14},
		}},
		LockTime: 0,
	}
}

func TestSerializeDeserializeLegacyRoundTrip(t *testing.T) {
	tx := sampleLegacyTx()
	data := tx.Serialize(false)

	decoded, n, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if n != len(data) {
		t.Fatalf("consumed %d bytes, want %d", n, len(data))
	}
	if !bytes.Equal(decoded.Serialize(false), data) {
		t.Fatalf("round-trip mismatch")
	}
	if decoded.HasWitness() {
		t.Fatalf("legacy tx should not report witness data")
	}
}

func TestSerializeDeserializeWitnessRoundTrip(t *testing.T) {
	tx := sampleLegacyTx()
	tx.TxIn[0].Witness = [][]byte{{0xde, 0xad, 0xbe, 0xef}}

	data := tx.Serialize(true)
	if data[4] != 0x00 || data[5] != 0x01 {
		t.Fatalf("expected marker/flag bytes at offset 4/5, got %x %x", data[4], data[5])
	}

	decoded, n, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if n != len(data) {
		t.Fatalf("consumed %d bytes, want %d", n, len(data))
	}
	if !decoded.HasWitness() {
		t.Fatalf("expected witness data to round-trip")
	}
	if len(decoded.TxIn[0].Witness) != 1 || !bytes.Equal(decoded.TxIn[0].Witness[0], []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("witness stack mismatch: %x", decoded.TxIn[0].Witness)
	}
}

func TestTxidIgnoresWitness(t *testing.T) {
	tx := sampleLegacyTx()
	legacyTxid := tx.Txid()

	tx.TxIn[0].Witness = [][]byte{{0x01}}
	withWitnessTxid := tx.Txid()

	if legacyTxid != withWitnessTxid {
		t.Fatalf("txid must not change when witness data is added")
	}
	if tx.Txid() == tx.Wtxid() {
		t.Fatalf("wtxid should differ from txid once witness data is present")
	}
}

func TestFirstScriptSigOffset(t *testing.T) {
	tx := sampleLegacyTx()

	legacyOffset, err := FirstScriptSigOffset(tx, false)
	if err != nil {
		t.Fatalf("FirstScriptSigOffset(legacy): %v", err)
	}
	// version(4) + txin count varint(1) + prevout(36) + scriptSig len varint(1) = 42
	if legacyOffset != 42 {
		t.Fatalf("legacy offset = %d, want 42", legacyOffset)
	}

	witnessOffset, err := FirstScriptSigOffset(tx, true)
	if err != nil {
		t.Fatalf("FirstScriptSigOffset(witness): %v", err)
	}
	if witnessOffset != legacyOffset+2 {
		t.Fatalf("witness offset = %d, want legacy+2 = %d", witnessOffset, legacyOffset+2)
	}

	data := tx.Serialize(false)
	if !bytes.Equal(data[legacyOffset:legacyOffset+3], tx.TxIn[0].ScriptSig) {
		t.Fatalf("offset does not point at scriptSig content: got %x", data[legacyOffset:legacyOffset+3])
	}
}
