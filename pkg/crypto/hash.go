package crypto

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
)

// Hash generates a SHA-1 digest. Used for frame deduplication only.
func Hash(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}

// HashString returns the hex form of Hash
func HashString(data []byte) string {
	return hex.EncodeToString(Hash(data))
}

// Hash512 generates a SHA-512 digest, used for trust tokens and signatures
func Hash512(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:]
}

// GenerateNonce generates a random nonce
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}
