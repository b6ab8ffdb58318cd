package merkle

import "testing"

func leaf(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	return h
}

func TestRootSingleLeaf(t *testing.T) {
	l := leaf(1)
	if got := Root([][32]byte{l}); got != l {
		t.Fatalf("single-leaf root should equal the leaf itself")
	}
}

func TestRootOddCountDuplicatesLast(t *testing.T) {
	a, b, c := leaf(1), leaf(2), leaf(3)
	got := Root([][32]byte{a, b, c})
	want := branch(branch(a, b), branch(c, c))
	if got != want {
		t.Fatalf("odd-count root mismatch: got %x want %x", got, want)
	}
}

func TestCoinbasePathReconstructsRoot(t *testing.T) {
	for n := 2; n <= 9; n++ {
		leaves := make([][32]byte, n)
		for i := range leaves {
			leaves[i] = leaf(byte(i + 1))
		}
		root := Root(leaves)
		path := CoinbasePath(leaves)
		got := ApplyCoinbasePath(leaves[0], path)
		if got != root {
			t.Fatalf("n=%d: coinbase path did not reconstruct root: got %x want %x", n, got, root)
		}
	}
}

func TestCoinbasePathEmptyForSingleLeaf(t *testing.T) {
	if path := CoinbasePath([][32]byte{leaf(1)}); path != nil {
		t.Fatalf("expected nil path for a single-leaf tree, got %v", path)
	}
}
