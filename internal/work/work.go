// Package work binds one polled block template to a chain profile and the
// mutable per-share header state a pool mutates on the submit path: nTime
// refreshes, worker extranonce injection, and the recomputation of
// hashMerkleRoot that injection requires. See template.go for the
// lower-level stratum-facing helpers (merkle branches, prevhash format
// conversion) this package builds on.
package work

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
	"github.com/djkazic/p2pool-go/internal/chainparams"
	"github.com/djkazic/p2pool-go/internal/coinbase"
	"github.com/djkazic/p2pool-go/internal/merkle"
	"github.com/djkazic/p2pool-go/internal/metrics"
	"github.com/djkazic/p2pool-go/internal/selector"
	"github.com/djkazic/p2pool-go/internal/txcodec"
	"github.com/djkazic/p2pool-go/internal/witness"
	"github.com/djkazic/p2pool-go/pkg/util"
)

// State is a Work's position in its lifecycle.
type State int

const (
	StateNew State = iota
	StateLoaded
	StateMutated
	StateSubmitting
	StateAccepted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLoaded:
		return "loaded"
	case StateMutated:
		return "mutated"
	case StateSubmitting:
		return "submitting"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// servesNotifications reports whether a Work in this state may be handed
// to the stratum layer for a job notification.
func (s State) servesNotifications() bool {
	return s == StateLoaded || s == StateMutated
}

// Submission carries the fields a miner's share submission contributes.
type Submission struct {
	ExtraNonce1 []byte
	ExtraNonce2 []byte
	NTime       uint32
	Nonce       uint32
	VersionBits uint32 // rolled bits, already masked to the negotiated ASIC Boost mask
}

// Work binds a loaded block template to the mutable header state a pool
// mutates on the submit path. New → Loaded → Mutated* → Submitting →
// (Accepted | Rejected); only Loaded and Mutated may serve notifications.
type Work struct {
	mu sync.Mutex

	state  State
	params *chainparams.Params

	height   int64
	version  int32
	prevHash [32]byte // internal byte order
	bits     uint32
	nTime    uint32
	nonce    uint32

	coinbaseLegacy  []byte
	coinbaseWitness []byte
	legacyOffset    int
	witnessOffset   int
	extraNonce1Size int
	extraNonce2Size int
	segwit          bool // true when the template's selected txs carry witness data

	coinbasePath [][32]byte
	selectedTxs  []selector.TemplateTx

	hashMerkleRoot [32]byte
}

// New returns an empty Work bound to a chain profile.
func New(params *chainparams.Params) *Work {
	return &Work{state: StateNew, params: params}
}

// State returns the Work's current lifecycle state.
func (w *Work) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LoadFromTemplate builds the coinbase and merkle path from tmpl and moves
// the Work from New to Loaded. It is an error to call this more than once
// on the same Work; build a new Work for the next template instead.
func (w *Work) LoadFromTemplate(
	tmpl *bitcoin.BlockTemplate,
	payoutScript []byte,
	coinbaseMessage string,
	extraNonce1Size, extraNonce2Size int,
	txCountLimit int,
) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateNew {
		return &TemplateError{Kind: MalformedTemplate, Msg: fmt.Sprintf("LoadFromTemplate called in state %s", w.state)}
	}
	if len(payoutScript) == 0 {
		return &TemplateError{Kind: AddressMismatch, Msg: "payout script is empty"}
	}
	if hashLen, ok := payoutHashLen(payoutScript); ok && hashLen != w.params.AddressHashLen {
		return &TemplateError{Kind: AddressMismatch, Msg: fmt.Sprintf(
			"payout script hash length %d does not match chain address length %d", hashLen, w.params.AddressHashLen)}
	}

	bitsBytes, err := hex.DecodeString(tmpl.Bits)
	if err != nil || len(bitsBytes) != 4 {
		return &TemplateError{Kind: MalformedTemplate, Msg: "bad nBits field", Err: err}
	}
	bits := binary.BigEndian.Uint32(bitsBytes)

	prevHashDisplay, err := hex.DecodeString(tmpl.PreviousBlockHash)
	if err != nil || len(prevHashDisplay) != 32 {
		return &TemplateError{Kind: MalformedTemplate, Msg: "bad previousblockhash", Err: err}
	}
	var prevHash [32]byte
	copy(prevHash[:], util.ReverseBytes(prevHashDisplay))

	selTxs := make([]selector.TemplateTx, len(tmpl.Transactions))
	hashByTxid := make(map[string]string, len(tmpl.Transactions))
	for i, tx := range tmpl.Transactions {
		hashByTxid[tx.TxID] = tx.Hash
		data, err := hex.DecodeString(tx.Data)
		if err != nil {
			return &TemplateError{Kind: MalformedTransaction, Msg: fmt.Sprintf("tx %s: bad hex", tx.TxID), Err: err}
		}
		selTxs[i] = selector.TemplateTx{Data: data, Txid: tx.TxID, Fee: tx.Fee}
	}

	selResult, err := selector.Select(selTxs, txCountLimit, tmpl.CoinbaseValue, w.params.SortSelectedTxids)
	if err != nil {
		return &TemplateError{Kind: MalformedTemplate, Msg: "transaction selection failed", Err: err}
	}

	segwitTxs := make([]witness.Tx, 1+len(selResult.Selected))
	for i, tx := range selResult.Selected {
		decoded, _, err := txcodec.Deserialize(tx.Data)
		if err != nil {
			return &TemplateError{Kind: MalformedTransaction, Msg: fmt.Sprintf("tx %s: bad wire form", tx.Txid), Err: err}
		}
		// The template's hash field is the tx's wtxid; fall back to the
		// decoded data when the node does not supply one.
		wtxid := decoded.Wtxid()
		if h, err := util.HexToHash(hashByTxid[tx.Txid]); err == nil {
			wtxid = h
		}
		segwitTxs[i+1] = witness.Tx{Txid: decoded.Txid(), Wtxid: wtxid}
	}

	hasWitness := witness.HasWitnessData(segwitTxs)

	var commitmentScript []byte
	if hasWitness {
		commitment := witness.Commitment(segwitTxs)
		commitmentScript = witness.Script(commitment)
	}

	cbInput := coinbase.Input{
		Height:                  tmpl.Height,
		Message:                 coinbaseMessage,
		ExtraNonce1Size:         extraNonce1Size,
		ExtraNonce2Size:         extraNonce2Size,
		PayoutValue:             selResult.BlockReward,
		PayoutScript:            payoutScript,
		SegWit:                  hasWitness,
		WitnessCommitmentScript: commitmentScript,
	}
	if w.params.GraftDevReward {
		cbInput.DevReward = tmpl.CoinbaseDevReward
	}
	if w.params.GraftMinerFund {
		cbInput.MinerFund = tmpl.MinerFund
	}
	if tmpl.CoinbaseAux != nil && tmpl.CoinbaseAux.Flags != "" {
		flags, err := hex.DecodeString(tmpl.CoinbaseAux.Flags)
		if err != nil {
			return &TemplateError{Kind: MalformedTemplate, Msg: "bad coinbaseaux.flags", Err: err}
		}
		cbInput.Flags = flags
	}

	buildStart := time.Now()
	cbResult, err := coinbase.Build(cbInput)
	metrics.CoinbaseBuildDuration.WithLabelValues(string(w.params.Ticker)).Observe(time.Since(buildStart).Seconds())
	if err != nil {
		return &TemplateError{Kind: WitnessComputationFailed, Msg: "build coinbase failed", Err: err}
	}

	leaves := make([][32]byte, 1+len(selResult.Selected))
	for i, tx := range selResult.Selected {
		b, err := hex.DecodeString(tx.Txid)
		if err != nil {
			return &TemplateError{Kind: MalformedTransaction, Msg: fmt.Sprintf("invalid txid %s", tx.Txid), Err: err}
		}
		copy(leaves[i+1][:], util.ReverseBytes(b))
	}

	w.height = tmpl.Height
	w.version = tmpl.Version
	w.prevHash = prevHash
	w.bits = bits
	w.nTime = uint32(tmpl.CurTime)
	w.coinbaseLegacy = cbResult.Tx.Serialize(false)
	w.coinbaseWitness = cbResult.Tx.Serialize(true)
	w.legacyOffset = cbResult.LegacyExtraNonceOffset
	w.witnessOffset = cbResult.WitnessExtraNonceOffset
	w.extraNonce1Size = extraNonce1Size
	w.extraNonce2Size = extraNonce2Size
	w.segwit = hasWitness
	w.coinbasePath = merkle.CoinbasePath(leaves)
	w.selectedTxs = selResult.Selected

	cbHash := util.DoubleSHA256(w.coinbaseLegacy)
	w.hashMerkleRoot = merkle.ApplyCoinbasePath(cbHash, w.coinbasePath)

	w.state = StateLoaded
	return nil
}

// Mutate refreshes nTime to the current wall-clock time. Callers
// regenerate the notify payload afterward; Mutate itself only updates
// state, per the Loaded→Mutated transition.
func (w *Work) Mutate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.state.servesNotifications() {
		return &TemplateError{Kind: MalformedTemplate, Msg: fmt.Sprintf("Mutate called in state %s", w.state)}
	}
	w.nTime = uint32(time.Now().Unix())
	w.state = StateMutated
	return nil
}

// PrepareForSubmit writes the worker's extranonce into the coinbase at the
// offsets recorded by LoadFromTemplate (both legacy and witness forms),
// merges the miner-supplied nTime/nonce/version-bits, and recomputes
// hashMerkleRoot from the mutated coinbase and the stored path.
func (w *Work) PrepareForSubmit(sub Submission) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.state.servesNotifications() {
		return &TemplateError{Kind: MalformedTemplate, Msg: fmt.Sprintf("PrepareForSubmit called in state %s", w.state)}
	}
	if len(sub.ExtraNonce1) != w.extraNonce1Size || len(sub.ExtraNonce2) != w.extraNonce2Size {
		return &TemplateError{Kind: MalformedTransaction, Msg: "extranonce size mismatch"}
	}

	w.state = StateSubmitting

	extranonce := append(append([]byte{}, sub.ExtraNonce1...), sub.ExtraNonce2...)
	copy(w.coinbaseLegacy[w.legacyOffset:w.legacyOffset+len(extranonce)], extranonce)
	copy(w.coinbaseWitness[w.witnessOffset:w.witnessOffset+len(extranonce)], extranonce)

	w.nTime = sub.NTime
	w.nonce = sub.Nonce

	if sub.VersionBits != 0 {
		w.version = int32(uint32(w.version) | sub.VersionBits)
	}

	cbHash := util.DoubleSHA256(w.coinbaseLegacy)
	w.hashMerkleRoot = merkle.ApplyCoinbasePath(cbHash, w.coinbasePath)

	return nil
}

// header serializes the current 80-byte header.
func (w *Work) header() []byte {
	h := make([]byte, 80)
	binary.LittleEndian.PutUint32(h[0:4], uint32(w.version))
	copy(h[4:36], w.prevHash[:])
	copy(h[36:68], w.hashMerkleRoot[:])
	binary.LittleEndian.PutUint32(h[68:72], w.nTime)
	binary.LittleEndian.PutUint32(h[72:76], w.bits)
	binary.LittleEndian.PutUint32(h[76:80], w.nonce)
	return h
}

// CheckConsensus computes the chain-specific proof-of-work hash of the
// current header, compares it against the target derived from nBits, and
// returns whether it meets the target along with the resulting share
// difficulty.
func (w *Work) CheckConsensus() (bool, float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.params.CheckConsensus(w.header(), w.bits)
}

// BuildBlock emits the full serialized block: header ‖ CompactSize(txNum+1)
// ‖ coinbase ‖ concatenated selected transaction hex, lowercase. The
// coinbase is the witness form carrying the reserved value when the Work is
// SegWit, and the legacy form otherwise.
func (w *Work) BuildBlock() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.BuildBlockDuration.WithLabelValues(string(w.params.Ticker)).Observe(time.Since(start).Seconds())
	}()

	var coinbaseBytes []byte
	if w.segwit {
		decoded, _, err := txcodec.Deserialize(w.coinbaseWitness)
		if err != nil {
			return "", &TemplateError{Kind: WitnessComputationFailed, Msg: "decode mutated coinbase", Err: err}
		}
		if len(decoded.TxIn) > 0 {
			decoded.TxIn[0].Witness = [][]byte{witness.ReservedValue[:]}
		}
		coinbaseBytes = decoded.Serialize(true)
	} else {
		decoded, _, err := txcodec.Deserialize(w.coinbaseLegacy)
		if err != nil {
			return "", &TemplateError{Kind: WitnessComputationFailed, Msg: "decode mutated coinbase", Err: err}
		}
		coinbaseBytes = decoded.Serialize(false)
	}

	buf := append([]byte{}, w.header()...)
	buf = append(buf, util.WriteVarInt(uint64(1+len(w.selectedTxs)))...)
	buf = append(buf, coinbaseBytes...)
	for _, tx := range w.selectedTxs {
		buf = append(buf, tx.Data...)
	}

	return hex.EncodeToString(buf), nil
}

// ExpectedWork returns getDifficulty(nBits).
func (w *Work) ExpectedWork() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return chainparams.GetDifficulty(w.bits)
}

// ShareHash writes the display hash (double-SHA256, reversed to display
// byte order) of the current header into buf, which must be at least 32
// bytes long.
func (w *Work) ShareHash(buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(buf) < 32 {
		return fmt.Errorf("shareHash: buffer too small: %d bytes", len(buf))
	}
	display := chainparams.DisplayHash(w.header())
	reversed := util.ReverseBytes(display[:])
	copy(buf, reversed)
	return nil
}

// Finish transitions a Submitting Work to its terminal state.
func (w *Work) Finish(accepted bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if accepted {
		w.state = StateAccepted
	} else {
		w.state = StateRejected
	}
}

// Height returns the template height this Work was loaded from.
func (w *Work) Height() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.height
}

// CoinbaseOffsets returns the recorded extranonce offsets for the legacy
// and witness coinbase serializations, for stratum layers that split the
// coinbase into coinb1/coinb2 themselves.
func (w *Work) CoinbaseOffsets() (legacy, witnessOff int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.legacyOffset, w.witnessOffset
}

// Snapshot is a read-only view of the fields a stratum notify payload
// needs, taken at the moment of the call.
type Snapshot struct {
	Version        int32
	PrevHash       [32]byte
	Bits           uint32
	NTime          uint32
	Height         int64
	CoinbaseLegacy  []byte
	LegacyOffset    int
	ExtraNonce1Size int
	ExtraNonce2Size int
	CoinbasePath    [][32]byte
	SelectedTxs     []selector.TemplateTx
	Params          *chainparams.Params
}

// Snapshot copies out the fields needed to build a notify payload, leaving
// the Work itself untouched.
func (w *Work) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		Version:        w.version,
		PrevHash:       w.prevHash,
		Bits:           w.bits,
		NTime:          w.nTime,
		Height:         w.height,
		CoinbaseLegacy:  append([]byte(nil), w.coinbaseLegacy...),
		LegacyOffset:    w.legacyOffset,
		ExtraNonce1Size: w.extraNonce1Size,
		ExtraNonce2Size: w.extraNonce2Size,
		CoinbasePath:    w.coinbasePath,
		SelectedTxs:     w.selectedTxs,
		Params:          w.params,
	}
}

// payoutHashLen extracts the pushed hash length from a standard P2PKH,
// P2SH, or segwit-v0 payout script, returning ok=false for anything else
// (e.g. a bare multisig or OP_RETURN output) since those carry no single
// chain-sized hash to compare against AddressHashLen.
func payoutHashLen(script []byte) (int, bool) {
	switch {
	case len(script) >= 3 && script[0] == 0x76 && script[1] == 0xa9: // P2PKH: OP_DUP OP_HASH160 <len>
		return int(script[2]), true
	case len(script) >= 2 && script[0] == 0xa9: // P2SH: OP_HASH160 <len>
		return int(script[1]), true
	case len(script) >= 2 && script[0] == 0x00: // segwit v0: OP_0 <len>
		return int(script[1]), true
	default:
		return 0, false
	}
}
