package crypto

import (
	"bytes"
	"crypto/rsa"
	"testing"
)

func TestSignVerifySignature(t *testing.T) {
	privateKey, _ := testKeys(t)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "simple message", data: []byte("Sign this message")},
		{name: "empty data", data: []byte{}},
		{name: "large data", data: bytes.Repeat([]byte("A"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signature, err := Sign(Hash512(tt.data), privateKey)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}

			if !VerifySignature(Hash512(tt.data), signature, &privateKey.PublicKey) {
				t.Fatal("VerifySignature() rejected a valid signature")
			}
		})
	}
}

func TestSignRejectsNonSHA512Digest(t *testing.T) {
	privateKey, _ := testKeys(t)

	if _, err := Sign(Hash([]byte("sha1")), privateKey); err != ErrInvalidDigest {
		t.Errorf("Sign() error = %v, want %v", err, ErrInvalidDigest)
	}
}

func TestVerifySignatureInvalid(t *testing.T) {
	keyA, keyB := testKeys(t)
	digest := Hash512([]byte("original data"))

	signature, _ := Sign(digest, keyA)

	corrupted := append([]byte{}, signature...)
	corrupted[0] ^= 0xFF

	tests := []struct {
		name      string
		digest    []byte
		signature []byte
		publicKey *rsa.PublicKey
	}{
		{name: "modified data", digest: Hash512([]byte("modified data")), signature: signature, publicKey: &keyA.PublicKey},
		{name: "modified signature", digest: digest, signature: corrupted, publicKey: &keyA.PublicKey},
		{name: "empty signature", digest: digest, signature: []byte{}, publicKey: &keyA.PublicKey},
		{name: "wrong key", digest: digest, signature: signature, publicKey: &keyB.PublicKey},
		{name: "nil key", digest: digest, signature: signature, publicKey: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature(tt.digest, tt.signature, tt.publicKey) {
				t.Error("VerifySignature() accepted an invalid signature")
			}
		})
	}
}

func TestSignatureDeterministic(t *testing.T) {
	privateKey, _ := testKeys(t)
	digest := Hash512([]byte("test message"))

	sig1, _ := Sign(digest, privateKey)
	sig2, _ := Sign(digest, privateKey)

	if !bytes.Equal(sig1, sig2) {
		t.Error("Sign() produced different signatures for same digest")
	}
}
