package testutil

import (
	"math/big"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
)

// SampleBlockTemplate returns a minimal block template for testing.
func SampleBlockTemplate() *bitcoin.BlockTemplate {
	return &bitcoin.BlockTemplate{
		Version:           536870912,
		PreviousBlockHash: "0000000000000003fa0d845513ea5014a7859d411f5f4a91eaab24eb47a18f39",
		Transactions:      []bitcoin.TemplateTransaction{},
		CoinbaseValue:     5000000000,
		Target:            "00000000ffff0000000000000000000000000000000000000000000000000000",
		CurTime:           1700000000,
		Bits:              "1d00ffff",
		Height:            800000,
	}
}

// EasyTarget returns a very easy target for testing (any hash will pass).
func EasyTarget() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}
