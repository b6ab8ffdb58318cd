// Package chainparams holds the per-chain constants and behaviors that
// differ across Bitcoin-family networks: which hash function secures the
// header, how the share difficulty is scaled, and whether the selected
// transaction set must be sorted by txid before serialization.
package chainparams

import (
	"fmt"
	"math/big"

	"github.com/djkazic/p2pool-go/pkg/util"
)

// Ticker identifies a supported chain.
type Ticker string

const (
	BTC  Ticker = "BTC"
	LTC  Ticker = "LTC"
	BCHN Ticker = "BCHN"
	BCHA Ticker = "BCHA"
	FCH  Ticker = "FCH"
)

// Params describes the consensus-adjacent behavior of one chain that the
// block-template assembler must respect.
type Params struct {
	Ticker Ticker

	// AddressHashLen is the expected length in bytes of the decoded payout
	// address hash (20 for a standard P2PKH hash160). LoadFromTemplate
	// rejects a mining address whose decoded length disagrees.
	AddressHashLen int

	// DifficultyFactor scales the share difficulty reported by
	// CheckConsensus relative to the Bitcoin-style target_max / hash ratio.
	// LTC multiplies by 65536 because its scrypt PoW target space differs
	// from SHA-256d's.
	DifficultyFactor float64

	// SortSelectedTxids requests that the transaction selector sort its
	// output by ascending hex txid after dependency-respecting selection
	// (BCHN/BCHABC nodes expect this ordering).
	SortSelectedTxids bool

	// GraftDevReward requests the FCH-style coinbasedevreward graft.
	GraftDevReward bool

	// GraftMinerFund requests the BCHA-style minerfund graft.
	GraftMinerFund bool

	// HeaderPoWHash computes the chain-specific consensus proof-of-work
	// hash of a serialized 80-byte header (internal byte order, as
	// returned by the hashing algorithm — callers reverse for display).
	HeaderPoWHash func(header []byte) ([32]byte, error)
}

// MaxTarget is the difficulty-1 target shared by all of these chains
// (0x1d00ffff expanded).
var MaxTarget = util.CompactToTarget(0x1d00ffff)

// sha256dHeaderHash is the HeaderPoWHash used by every chain whose
// consensus PoW is plain double-SHA256 over the header (BTC, BCH, FCH).
func sha256dHeaderHash(header []byte) ([32]byte, error) {
	return util.DoubleSHA256(header), nil
}

// scryptHeaderHash is LTC's consensus PoW: scrypt over the header. LTC's
// display/merkle hash remains SHA-256d — DisplayHash below always uses
// DoubleSHA256, never this function.
func scryptHeaderHash(header []byte) ([32]byte, error) {
	return util.ScryptPoW(header)
}

// For returns the Params for a known ticker, or an error for an
// unrecognized one.
func For(t Ticker) (*Params, error) {
	switch t {
	case BTC:
		return &Params{
			Ticker:           BTC,
			AddressHashLen:   20,
			DifficultyFactor: 1,
			HeaderPoWHash:    sha256dHeaderHash,
		}, nil
	case LTC:
		return &Params{
			Ticker:           LTC,
			AddressHashLen:   20,
			DifficultyFactor: 65536,
			HeaderPoWHash:    scryptHeaderHash,
		}, nil
	case BCHN:
		return &Params{
			Ticker:            BCHN,
			AddressHashLen:    20,
			DifficultyFactor:  1,
			SortSelectedTxids: true,
			HeaderPoWHash:     sha256dHeaderHash,
		}, nil
	case BCHA:
		return &Params{
			Ticker:            BCHA,
			AddressHashLen:    20,
			DifficultyFactor:  1,
			SortSelectedTxids: true,
			GraftMinerFund:    true,
			HeaderPoWHash:     sha256dHeaderHash,
		}, nil
	case FCH:
		return &Params{
			Ticker:           FCH,
			AddressHashLen:   20,
			DifficultyFactor: 1,
			GraftDevReward:   true,
			HeaderPoWHash:    sha256dHeaderHash,
		}, nil
	default:
		return nil, fmt.Errorf("unknown chain ticker %q", t)
	}
}

// DisplayHash returns the chain's display/merkle hash of a header, which is
// always SHA-256d regardless of the consensus PoW function (see spec's LTC
// note: consensus vs. display hash must never be unified).
func DisplayHash(header []byte) [32]byte {
	return util.DoubleSHA256(header)
}

// ShareDifficulty computes target_max / hash_as_u256 * DifficultyFactor for
// a hash that met (or didn't) the target derived from nBits.
func (p *Params) ShareDifficulty(hash [32]byte) float64 {
	reversed := util.ReverseBytes(hash[:])
	hashInt := new(big.Int).SetBytes(reversed)
	if hashInt.Sign() == 0 {
		return 0
	}
	maxF := new(big.Float).SetInt(MaxTarget)
	hashF := new(big.Float).SetInt(hashInt)
	diff := new(big.Float).Quo(maxF, hashF)
	diff.Mul(diff, big.NewFloat(p.DifficultyFactor))
	result, _ := diff.Float64()
	return result
}

// CheckConsensus computes the chain-specific PoW hash of header, compares
// it against the target derived from nBits (Bitcoin compact encoding), and
// returns whether it meets the target along with the resulting share
// difficulty.
func (p *Params) CheckConsensus(header []byte, nBits uint32) (bool, float64, error) {
	hash, err := p.HeaderPoWHash(header)
	if err != nil {
		return false, 0, fmt.Errorf("header pow hash: %w", err)
	}
	target := util.CompactToTarget(nBits)
	ok := util.HashMeetsTarget(hash, target)
	return ok, p.ShareDifficulty(hash), nil
}

// GetDifficulty converts a compact nBits value to a floating-point
// difficulty relative to the 0x1d00ffff baseline, per spec.md §4.H.
func GetDifficulty(bits uint32) float64 {
	shift := bits >> 24
	mantissa := float64(bits & 0x00ffffff)
	if mantissa == 0 {
		return 0
	}
	diff := 0xffff / mantissa
	for shift < 29 {
		diff *= 256
		shift++
	}
	for shift > 29 {
		diff /= 256
		shift--
	}
	return diff
}
