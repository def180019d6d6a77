package crypto

import (
	"crypto/subtle"
	"encoding/base64"
)

// trustTokenEntropy is the amount of CSPRNG output hashed into one token
const trustTokenEntropy = 8 * 1024

// GenerateTrustToken mints a directional bearer token:
// base64(SHA-512(8 KiB of CSPRNG output)).
func GenerateTrustToken() (string, error) {
	buf, err := GenerateNonce(trustTokenEntropy)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(Hash512(buf)), nil
}

// TokensEqual compares two tokens in constant time
func TokensEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
