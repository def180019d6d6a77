package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrInvalidKey        = errors.New("invalid key")
	ErrKeyTooSmall       = errors.New("rsa key smaller than 2048 bits")
	ErrPlaintextTooLarge = errors.New("plaintext exceeds rsa-oaep capacity")
	ErrEncryptionFailed  = errors.New("encryption failed")
)

const (
	// DefaultKeyBits is the modulus size used for new peer identities
	DefaultKeyBits = 4096

	// MinKeyBits is the smallest modulus accepted from remote peers
	MinKeyBits = 2048
)

// GenerateRSAKeyPair generates a new RSA-4096 key pair
func GenerateRSAKeyPair() (*rsa.PrivateKey, error) {
	return GenerateRSAKeyPairSize(DefaultKeyBits)
}

// GenerateRSAKeyPairSize generates an RSA key pair with the given modulus size
func GenerateRSAKeyPairSize(bits int) (*rsa.PrivateKey, error) {
	if bits < MinKeyBits {
		return nil, ErrKeyTooSmall
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

// ExportPrivateKeyPEM exports private key to PEM format
func ExportPrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	privBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}

	return pem.EncodeToMemory(privBlock), nil
}

// ExportPublicKeyPEM exports public key to PEM format
func ExportPublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	pubASN1, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}

	pubBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubASN1,
	}

	return pem.EncodeToMemory(pubBlock), nil
}

// ImportPrivateKeyPEM imports private key from PEM format
func ImportPrivateKeyPEM(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}

	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// ImportPublicKeyPEM imports public key from PEM format
func ImportPublicKeyPEM(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}

	return parsePKIXPublicKey(block.Bytes)
}

// EncodePublicKey returns the canonical string form of a public key used
// throughout the trust store and on the wire: base64 of the PKIX DER encoding.
func EncodePublicKey(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePublicKey parses the canonical string form produced by EncodePublicKey.
func DecodePublicKey(encoded string) (*rsa.PublicKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrInvalidKey
	}

	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return parsePKIXPublicKey(der)
}

// EncodePrivateKey returns base64 of the PKCS#1 DER encoding
func EncodePrivateKey(key *rsa.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PrivateKey(key))
}

// DecodePrivateKey parses the output of EncodePrivateKey
func DecodePrivateKey(encoded string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

func parsePKIXPublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}

	if rsaPub.N.BitLen() < MinKeyBits {
		return nil, ErrKeyTooSmall
	}

	return rsaPub, nil
}

// SaveKeyToFile saves a PEM encoded key to file
func SaveKeyToFile(filename string, pemData []byte) error {
	return os.WriteFile(filename, pemData, 0600)
}

// LoadKeyFromFile loads a PEM encoded key from file
func LoadKeyFromFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// MaxAsymmetricPlaintext returns the largest plaintext AsymmetricEncrypt
// accepts for the given key (RSA-OAEP with SHA-256).
func MaxAsymmetricPlaintext(key *rsa.PublicKey) int {
	return key.Size() - 2*sha256.Size - 2
}

// AsymmetricEncrypt encrypts data with RSA public key using OAEP
func AsymmetricEncrypt(plaintext []byte, publicKey *rsa.PublicKey) ([]byte, error) {
	if publicKey == nil {
		return nil, ErrInvalidKey
	}
	if len(plaintext) > MaxAsymmetricPlaintext(publicKey) {
		return nil, ErrPlaintextTooLarge
	}

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, publicKey, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return ciphertext, nil
}

// AsymmetricDecrypt decrypts data with RSA private key using OAEP.
// It reports ok=false for a wrong key, bad padding or malformed input.
func AsymmetricDecrypt(ciphertext []byte, privateKey *rsa.PrivateKey) ([]byte, bool) {
	if privateKey == nil || len(ciphertext) == 0 {
		return nil, false
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, privateKey, ciphertext, nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}
