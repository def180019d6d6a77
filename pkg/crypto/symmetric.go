package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SymmetricKeySize is the size of the random key material handed to callers
	SymmetricKeySize = 32

	// SymmetricSaltSize is the size of the per-encryption PBKDF2 salt
	SymmetricSaltSize = 16

	// SymmetricIterations is the PBKDF2 iteration count for packet keys.
	// The input is already 256 bits of CSPRNG output.
	SymmetricIterations = 10000

	gcmNonceSize = 12
	gcmTagSize   = 16
)

var (
	ErrInvalidKeyMaterial = errors.New("symmetric key material must be 32 bytes")
	ErrMalformedCipher    = errors.New("malformed symmetric ciphertext")
)

// Symmetric performs AES-256-GCM encryption under a PBKDF2-derived working key.
//
// Encoded ciphertext layout (little endian):
//
//	[u16 len][salt][u16 len][nonce][u16 len][tag][u32 len][ciphertext]
type Symmetric struct {
	// Rand supplies key material, salts and nonces
	Rand io.Reader

	// Iterations overrides SymmetricIterations when non-zero
	Iterations int
}

// DefaultSymmetric reads from crypto/rand
var DefaultSymmetric = NewSymmetric(rand.Reader)

// NewSymmetric creates a Symmetric reading randomness from r
func NewSymmetric(r io.Reader) *Symmetric {
	return &Symmetric{Rand: r, Iterations: SymmetricIterations}
}

// SymmetricEncrypt encrypts plaintext under fresh random key material
func SymmetricEncrypt(plaintext []byte) (ciphertext, keyMaterial []byte, err error) {
	return DefaultSymmetric.Encrypt(plaintext)
}

// SymmetricDecrypt decrypts output of SymmetricEncrypt
func SymmetricDecrypt(ciphertext, keyMaterial []byte) ([]byte, bool) {
	return DefaultSymmetric.Decrypt(ciphertext, keyMaterial)
}

// Encrypt generates fresh key material and encrypts plaintext with it.
// The caller must protect the returned key material separately.
func (s *Symmetric) Encrypt(plaintext []byte) (ciphertext, keyMaterial []byte, err error) {
	keyMaterial = make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(s.Rand, keyMaterial); err != nil {
		return nil, nil, err
	}

	ciphertext, err = s.EncryptWithKey(plaintext, keyMaterial)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, keyMaterial, nil
}

// EncryptWithKey encrypts plaintext under the given key material with a
// fresh salt and nonce.
func (s *Symmetric) EncryptWithKey(plaintext, keyMaterial []byte) ([]byte, error) {
	if len(keyMaterial) != SymmetricKeySize {
		return nil, ErrInvalidKeyMaterial
	}

	salt := make([]byte, SymmetricSaltSize)
	if _, err := io.ReadFull(s.Rand, salt); err != nil {
		return nil, err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(s.Rand, nonce); err != nil {
		return nil, err
	}

	gcm, err := s.newGCM(keyMaterial, salt)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	body, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	buf := make([]byte, 0, 2+len(salt)+2+len(nonce)+2+len(tag)+4+len(body))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(salt)))
	buf = append(buf, salt...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(nonce)))
	buf = append(buf, nonce...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tag)))
	buf = append(buf, tag...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(body)))
	buf = append(buf, body...)

	return buf, nil
}

// Decrypt reverses Encrypt. ok is false on a wrong key, failed
// authentication or malformed input.
func (s *Symmetric) Decrypt(ciphertext, keyMaterial []byte) ([]byte, bool) {
	if len(keyMaterial) != SymmetricKeySize {
		return nil, false
	}

	salt, nonce, tag, body, err := splitSymmetric(ciphertext)
	if err != nil {
		return nil, false
	}
	if len(nonce) != gcmNonceSize || len(tag) != gcmTagSize {
		return nil, false
	}

	gcm, err := s.newGCM(keyMaterial, salt)
	if err != nil {
		return nil, false
	}

	sealed := make([]byte, 0, len(body)+len(tag))
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, false
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, true
}

func (s *Symmetric) newGCM(keyMaterial, salt []byte) (cipher.AEAD, error) {
	iterations := s.Iterations
	if iterations <= 0 {
		iterations = SymmetricIterations
	}

	key := pbkdf2.Key(keyMaterial, salt, iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func splitSymmetric(buf []byte) (salt, nonce, tag, body []byte, err error) {
	offset := 0

	next16 := func() ([]byte, error) {
		if len(buf)-offset < 2 {
			return nil, ErrMalformedCipher
		}
		n := int(binary.LittleEndian.Uint16(buf[offset:]))
		offset += 2
		if len(buf)-offset < n {
			return nil, ErrMalformedCipher
		}
		field := buf[offset : offset+n]
		offset += n
		return field, nil
	}

	if salt, err = next16(); err != nil {
		return
	}
	if nonce, err = next16(); err != nil {
		return
	}
	if tag, err = next16(); err != nil {
		return
	}

	if len(buf)-offset < 4 {
		err = ErrMalformedCipher
		return
	}
	n := int(binary.LittleEndian.Uint32(buf[offset:]))
	offset += 4
	if len(buf)-offset != n {
		err = ErrMalformedCipher
		return
	}
	body = buf[offset:]
	return
}
