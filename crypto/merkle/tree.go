package merkle

import (
	"math/bits"

	"github.com/tendermint/stagesync/crypto"
)

var (
	leafPrefix  = []byte{0}
	innerPrefix = []byte{1}
)

// emptyHash is the root of a tree without leaves.
func emptyHash() []byte {
	return crypto.Keccak256()
}

func leafHash(leaf []byte) []byte {
	return crypto.Keccak256(leafPrefix, leaf)
}

func innerHash(left, right []byte) []byte {
	return crypto.Keccak256(innerPrefix, left, right)
}

// HashFromByteSlices computes a Merkle tree where the leaves are the byte slice,
// in the provided order. It follows RFC-6962.
func HashFromByteSlices(items [][]byte) []byte {
	switch len(items) {
	case 0:
		return emptyHash()
	case 1:
		return leafHash(items[0])
	default:
		k := getSplitPoint(len(items))
		left := HashFromByteSlices(items[:k])
		right := HashFromByteSlices(items[k:])
		return innerHash(left, right)
	}
}

// HashFromByteSlicesIterative is an iterative alternative to
// HashFromByteSlices. It does not risk hitting the stack limit for very
// large inputs and produces the same root.
func HashFromByteSlicesIterative(input [][]byte) []byte {
	items := make([][]byte, len(input))

	for i, leaf := range input {
		items[i] = leafHash(leaf)
	}

	size := len(items)
	for {
		switch size {
		case 0:
			return emptyHash()
		case 1:
			return items[0]
		default:
			rp := 0 // read position
			wp := 0 // write position
			for rp < size {
				if rp+1 < size {
					items[wp] = innerHash(items[rp], items[rp+1])
					rp += 2
				} else {
					items[wp] = items[rp]
					rp++
				}
				wp++
			}
			size = wp
		}
	}
}

// getSplitPoint returns the largest power of 2 less than length
func getSplitPoint(length int) int {
	if length < 1 {
		panic("Trying to split a tree with size < 1")
	}
	uLength := uint(length)
	bitlen := bits.Len(uLength)
	k := 1 << uint(bitlen-1)
	if k == length {
		k >>= 1
	}
	return k
}
