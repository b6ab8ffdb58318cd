package work

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
	"github.com/djkazic/p2pool-go/internal/chainparams"
	"github.com/djkazic/p2pool-go/internal/merkle"
	"github.com/djkazic/p2pool-go/internal/selector"
	"github.com/djkazic/p2pool-go/internal/txcodec"
	"github.com/djkazic/p2pool-go/internal/witness"
	"github.com/djkazic/p2pool-go/pkg/util"
)

// SplitCoinbase splits a coinbase transaction at the extranonce position.
// Returns coinbase1 (hex before extranonce) and coinbase2 (hex after extranonce).
func SplitCoinbase(coinbaseTx []byte, extranonceOffset int, extranonceSize int) (string, string) {
	coinbase1 := hex.EncodeToString(coinbaseTx[:extranonceOffset])
	coinbase2 := hex.EncodeToString(coinbaseTx[extranonceOffset+extranonceSize:])
	return coinbase1, coinbase2
}

// ComputeMerkleBranches computes the Merkle branches for the Stratum protocol.
// txHashes are the hashes of all transactions (excluding coinbase) as hex strings,
// internal byte order.
func ComputeMerkleBranches(txHashes []string) ([]string, error) {
	if len(txHashes) == 0 {
		return []string{}, nil
	}

	leaves := make([][32]byte, len(txHashes)+1) // +1 placeholder for the coinbase leaf
	for i, h := range txHashes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("invalid tx hash at index %d: %w", i, err)
		}
		if len(b) != 32 {
			return nil, fmt.Errorf("tx hash at index %d has %d bytes, want 32", i, len(b))
		}
		copy(leaves[i+1][:], b)
	}

	path := merkle.CoinbasePath(leaves)
	branches := make([]string, len(path))
	for i, node := range path {
		branches[i] = hex.EncodeToString(node[:])
	}
	return branches, nil
}

// ComputeMerkleRoot computes the Merkle root given the coinbase hash and branches.
// This is what miners do to reconstruct the full Merkle root.
func ComputeMerkleRoot(coinbaseHash []byte, branches []string) ([]byte, error) {
	var cur [32]byte
	copy(cur[:], coinbaseHash)

	for _, branch := range branches {
		branchBytes, err := hex.DecodeString(branch)
		if err != nil {
			return nil, fmt.Errorf("invalid branch hash: %w", err)
		}
		var sibling [32]byte
		copy(sibling[:], branchBytes)
		cur = merkle.ApplyCoinbasePath(cur, [][32]byte{sibling})
	}

	out := make([]byte, 32)
	copy(out, cur[:])
	return out, nil
}

// ComputeFullMerkleRoot builds the merkle root directly from a list of
// txid hashes (internal byte order, coinbase first) using the standard
// Bitcoin tree algorithm, rather than the branch-path shortcut miners use.
// Used for independent verification that a submitted block's header
// merkle root is consistent with its transaction set.
func ComputeFullMerkleRoot(txids [][]byte) []byte {
	if len(txids) == 0 {
		return nil
	}
	leaves := make([][32]byte, len(txids))
	for i, h := range txids {
		copy(leaves[i][:], h)
	}
	root := merkle.Root(leaves)
	out := make([]byte, 32)
	copy(out, root[:])
	return out
}

// BuildJobFromWork derives a Stratum job's notify fields from a Work
// already loaded by LoadFromTemplate, without redoing transaction
// selection or coinbase assembly.
func BuildJobFromWork(jobID string, w *Work) (*JobData, error) {
	snap := w.Snapshot()

	coinbase1, coinbase2 := SplitCoinbase(snap.CoinbaseLegacy, snap.LegacyOffset, snap.ExtraNonce1Size+snap.ExtraNonce2Size)

	branches := make([]string, len(snap.CoinbasePath))
	for i, node := range snap.CoinbasePath {
		branches[i] = hex.EncodeToString(node[:])
	}

	prevHashDisplay := util.ReverseBytes(snap.PrevHash[:])
	prevHashStratum, err := displayToStratumPrevHash(hex.EncodeToString(prevHashDisplay))
	if err != nil {
		return nil, fmt.Errorf("convert prevhash to stratum format: %w", err)
	}

	return &JobData{
		ID:               jobID,
		PrevBlockHash:    prevHashStratum,
		Coinbase1:        coinbase1,
		Coinbase2:        coinbase2,
		CoinbaseTx:       snap.CoinbaseLegacy,
		ExtranonceOffset: snap.LegacyOffset,
		MerkleBranches:   branches,
		Version:          fmt.Sprintf("%08x", uint32(snap.Version)),
		NBits:            fmt.Sprintf("%08x", snap.Bits),
		NTime:            fmt.Sprintf("%08x", snap.NTime),
		Height:           snap.Height,
		SelectedTxs:      snap.SelectedTxs,
		Params:           snap.Params,
	}, nil
}

// JobData contains the full job data including internal fields not sent to miners.
type JobData struct {
	ID               string
	Seq              uint64
	PrevBlockHash    string
	Coinbase1        string
	Coinbase2        string
	CoinbaseTx       []byte
	ExtranonceOffset int
	MerkleBranches   []string
	Version          string
	NBits            string
	NTime            string
	Height           int64
	CleanJobs        bool                   // true for new block, false for refresh
	Template         *bitcoin.BlockTemplate // template used to build this job
	SelectedTxs      []selector.TemplateTx
	Params           *chainparams.Params
	VersionMask      uint32 // advertised BIP320 version-rolling mask
}

// DefaultVersionMask is the conventional ASICBoost version-rolling mask
// (bits 13-28) used when the template carries no BIP9 deployment metadata
// to avoid.
const DefaultVersionMask uint32 = 0x1fffe000

// ComputeVersionMask derives the version-rolling mask a stratum layer may
// advertise to miners (BIP320 mining.configure), starting from baseMask and
// clearing any bit the template's vbavailable map claims for a live BIP9
// deployment so miner-rolled bits can never collide with consensus
// signaling.
func ComputeVersionMask(tmpl *bitcoin.BlockTemplate, baseMask uint32) uint32 {
	mask := baseMask
	for _, bit := range tmpl.VbAvailable {
		if bit >= 0 && bit < 32 {
			mask &^= 1 << uint(bit)
		}
	}
	return mask
}

// ReconstructHeader rebuilds the 80-byte block header and coinbase from a job
// and the miner's submission parameters. Returns (header, coinbaseBytes, error).
//
// The version parameter is the actual version to use (after applying any BIP 310
// version rolling bits). The 4-byte fields (version, nbits, ntime, nonce) are
// big-endian hex, reversed to little-endian for the header. The prevhash is in
// Stratum v1 format (4-byte-word-swapped internal order) and decoded accordingly.
func ReconstructHeader(job *JobData, version, extranonce1, extranonce2, ntime, nonce string) ([]byte, []byte, error) {
	coinbaseHex := job.Coinbase1 + extranonce1 + extranonce2 + job.Coinbase2
	coinbaseBytes, err := hex.DecodeString(coinbaseHex)
	if err != nil {
		return nil, nil, fmt.Errorf("decode coinbase hex: %w", err)
	}

	coinbaseHash := util.DoubleSHA256(coinbaseBytes)

	merkleRoot, err := ComputeMerkleRoot(coinbaseHash[:], job.MerkleBranches)
	if err != nil {
		return nil, nil, fmt.Errorf("compute merkle root: %w", err)
	}

	versionBytes, err := hexBEToLE(version, 4)
	if err != nil {
		return nil, nil, fmt.Errorf("decode version: %w", err)
	}

	prevHashBytes, err := stratumPrevHashToInternal(job.PrevBlockHash)
	if err != nil {
		return nil, nil, fmt.Errorf("decode prevhash: %w", err)
	}

	ntimeBytes, err := hexBEToLE(ntime, 4)
	if err != nil {
		return nil, nil, fmt.Errorf("decode ntime: %w", err)
	}

	nbitsBytes, err := hexBEToLE(job.NBits, 4)
	if err != nil {
		return nil, nil, fmt.Errorf("decode nbits: %w", err)
	}

	nonceBytes, err := hexBEToLE(nonce, 4)
	if err != nil {
		return nil, nil, fmt.Errorf("decode nonce: %w", err)
	}

	header := make([]byte, 80)
	copy(header[0:4], versionBytes)
	copy(header[4:36], prevHashBytes)
	copy(header[36:68], merkleRoot)
	copy(header[68:72], ntimeBytes)
	copy(header[72:76], nbitsBytes)
	copy(header[76:80], nonceBytes)

	return header, coinbaseBytes, nil
}

// ReconstructBlock builds the full serialized block for submission to the
// node. It combines the header, the witness-form coinbase transaction (so
// SegWit-carrying blocks validate), and the remaining selected transactions
// exactly as chosen by the selector for this job.
func ReconstructBlock(header []byte, coinbaseTx []byte, job *JobData) (string, error) {
	var buf bytes.Buffer
	buf.Write(header)

	txCount := 1 + len(job.SelectedTxs)
	buf.Write(util.WriteVarInt(uint64(txCount)))

	decoded, _, err := txcodec.Deserialize(coinbaseTx)
	if err != nil {
		return "", fmt.Errorf("decode coinbase for submission: %w", err)
	}
	if len(decoded.TxIn) > 0 {
		decoded.TxIn[0].Witness = [][]byte{witness.ReservedValue[:]}
	}
	buf.Write(decoded.Serialize(true))

	for _, tx := range job.SelectedTxs {
		buf.Write(tx.Data)
	}

	return hex.EncodeToString(buf.Bytes()), nil
}

// VerifyMerkleRoot independently computes the expected merkle root from the
// submitted coinbase and the job's selected transactions, and compares it
// with the merkle root stored in the 80-byte block header.
func VerifyMerkleRoot(header []byte, coinbaseTx []byte, job *JobData) error {
	if len(header) < 68 {
		return fmt.Errorf("header too short: %d bytes", len(header))
	}

	headerMerkleRoot := header[36:68]
	cbHash := util.DoubleSHA256(coinbaseTx)

	leaves := make([][32]byte, 1+len(job.SelectedTxs))
	leaves[0] = cbHash
	for i, tx := range job.SelectedTxs {
		b, err := hex.DecodeString(tx.Txid)
		if err != nil {
			return fmt.Errorf("invalid txid at index %d: %w", i, err)
		}
		copy(leaves[i+1][:], util.ReverseBytes(b))
	}

	expectedRoot := merkle.Root(leaves)

	if !bytes.Equal(headerMerkleRoot, expectedRoot[:]) {
		return fmt.Errorf(
			"merkle root mismatch: header=%s expected=%s coinbase_txid=%s tx_count=%d",
			hex.EncodeToString(headerMerkleRoot),
			hex.EncodeToString(expectedRoot[:]),
			hex.EncodeToString(cbHash[:]),
			len(job.SelectedTxs),
		)
	}

	return nil
}

// hexBEToLE decodes a big-endian hex string and reverses it to little-endian byte order.
func hexBEToLE(hexStr string, expectedLen int) ([]byte, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", hexStr, err)
	}
	if len(b) != expectedLen {
		return nil, fmt.Errorf("expected %d bytes, got %d", expectedLen, len(b))
	}
	return util.ReverseBytes(b), nil
}

// displayToStratumPrevHash converts a block hash from display order (big-endian,
// as returned by getblocktemplate) to Stratum v1 prevhash format.
// Stratum prevhash = internal byte order with each 4-byte word byte-swapped.
// The miner byte-swaps each word back to recover the internal order for the header.
func displayToStratumPrevHash(displayHex string) (string, error) {
	b, err := hex.DecodeString(displayHex)
	if err != nil {
		return "", fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 32 {
		return "", fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	internal := util.ReverseBytes(b)
	swapWords4(internal)
	return hex.EncodeToString(internal), nil
}

// stratumPrevHashToInternal converts a Stratum v1 prevhash hex string to the
// 32-byte internal byte order used in the Bitcoin block header.
func stratumPrevHashToInternal(stratumHex string) ([]byte, error) {
	b, err := hex.DecodeString(stratumHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	swapWords4(b)
	return b, nil
}

// swapWords4 byte-swaps each 4-byte word in a byte slice in place.
func swapWords4(b []byte) {
	for i := 0; i < len(b)-3; i += 4 {
		b[i], b[i+3] = b[i+3], b[i]
		b[i+1], b[i+2] = b[i+2], b[i+1]
	}
}
