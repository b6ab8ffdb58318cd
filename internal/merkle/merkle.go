// Package merkle builds Bitcoin-style merkle trees over transaction hashes
// and, in particular, the authentication path for the coinbase leaf (index
// 0) that a stratum job hands to miners so they can recompute the block's
// merkle root after substituting their own extranonce.
//
// Ported from the linear-array merkle tree construction used across the
// Bitcoin-family codebases: a parent with no right sibling is formed by
// hashing the left child with itself, never by promoting it unchanged.
package merkle

import "github.com/djkazic/p2pool-go/pkg/util"

// nextPowerOfTwo returns n rounded up to the next power of two.
func nextPowerOfTwo(n int) int {
	if n == 0 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	exp := 0
	for (1 << exp) < n {
		exp++
	}
	return 1 << exp
}

// branch concatenates and double-SHA256-hashes two 32-byte nodes.
func branch(left, right [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return util.DoubleSHA256(buf)
}

// Root computes the merkle root over leaves, in the order given. An empty
// leaf set returns the zero hash.
func Root(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	level := append([][32]byte(nil), leaves...)
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, branch(level[i], level[i+1]))
			} else {
				next = append(next, branch(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

// CoinbasePath computes the authentication path for leaf index 0 (the
// coinbase) across leaves: the sibling hash needed at every level to
// recompute the root, in bottom-to-top order. Miners combine these with
// their own coinbase hash via repeated left-hand branch() calls, since the
// coinbase is always the leftmost leaf.
//
// When a level's node at the sibling position doesn't exist (an odd count
// with the coinbase's subtree being the final, unpaired one), the node
// hashes with itself and that self-hash is the path element — mirroring
// the tree-construction rule in Root.
func CoinbasePath(leaves [][32]byte) [][32]byte {
	if len(leaves) <= 1 {
		return nil
	}

	var path [][32]byte
	level := append([][32]byte(nil), leaves...)
	idx := 0

	for len(level) > 1 {
		var sibling [32]byte
		if idx%2 == 0 {
			if idx+1 < len(level) {
				sibling = level[idx+1]
			} else {
				sibling = level[idx]
			}
		} else {
			sibling = level[idx-1]
		}
		path = append(path, sibling)

		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, branch(level[i], level[i+1]))
			} else {
				next = append(next, branch(level[i], level[i]))
			}
		}
		level = next
		idx /= 2
	}

	return path
}

// ApplyCoinbasePath folds a coinbase hash up through path (as produced by
// CoinbasePath) to recompute the merkle root. Since the coinbase is always
// the leftmost leaf, every fold is coinbaseHash = branch(coinbaseHash, sibling).
func ApplyCoinbasePath(coinbaseHash [32]byte, path [][32]byte) [32]byte {
	cur := coinbaseHash
	for _, sibling := range path {
		cur = branch(cur, sibling)
	}
	return cur
}

// paddedLeafCount reports the array size nextPowerOfTwo(n) would need when
// stored as a linear merkle tree (2*pot - 1), retained for callers that want
// to pre-size a backing array the way BuildMerkleTreeStore-style code does.
func paddedLeafCount(n int) int {
	pot := nextPowerOfTwo(n)
	return pot*2 - 1
}
