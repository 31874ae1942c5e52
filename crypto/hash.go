package crypto

import "golang.org/x/crypto/sha3"

// HashSize is the size in bytes of every hash produced by this package.
const HashSize = 32

// Keccak256 returns the legacy Keccak-256 digest of the concatenated parts.
func Keccak256(parts ...[]byte) []byte {
	hasher := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		hasher.Write(p)
	}
	return hasher.Sum(nil)
}
