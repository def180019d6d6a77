package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"errors"
)

var ErrInvalidDigest = errors.New("digest must be a sha-512 hash")

// Sign signs a SHA-512 digest with PKCS#1 v1.5
func Sign(hash []byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	if len(hash) != sha512.Size {
		return nil, ErrInvalidDigest
	}
	if privateKey == nil {
		return nil, ErrInvalidKey
	}
	return rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA512, hash)
}

// VerifySignature reports whether signature is a valid PKCS#1 v1.5
// signature of the SHA-512 digest hash under publicKey.
func VerifySignature(hash, signature []byte, publicKey *rsa.PublicKey) bool {
	if publicKey == nil || len(hash) != sha512.Size || len(signature) == 0 {
		return false
	}
	return rsa.VerifyPKCS1v15(publicKey, crypto.SHA512, hash, signature) == nil
}
