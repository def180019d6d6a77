// Package storage persists the trust store as an encrypted blob.
package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/crypto/pbkdf2"

	"github.com/ZentaChain/zentalk-peer/pkg/peers"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrCorruptVault    = errors.New("vault is corrupt")
	ErrEmptySecret     = errors.New("secret is empty")

	// ErrIncompatibleVersion is the trust store's own version error
	ErrIncompatibleVersion = peers.ErrIncompatibleVersion
)

const (
	// VaultIterations is the PBKDF2 iteration count for vault keys
	VaultIterations = 100000

	vaultSaltSize  = 16
	vaultNonceSize = 12
	vaultKeySize   = 32
)

// vaultMagic prefixes every blob and is authenticated as additional data
var vaultMagic = []byte("ZTV1")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Vault loads and saves a trust store under a user secret
type Vault interface {
	Load(secret string) (*peers.Store, error)
	Save(store *peers.Store, secret string) error
}

// sealer turns stores into blobs and back
type sealer struct {
	iterations int
	rand       io.Reader
}

func newSealer(iterations int) sealer {
	if iterations <= 0 {
		iterations = VaultIterations
	}
	return sealer{iterations: iterations, rand: rand.Reader}
}

// seal encrypts a store snapshot:
//
//	"ZTV1" | salt(16) | nonce(12) | AES-256-GCM(json)
func (s sealer) seal(store *peers.Store, secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	plaintext, err := json.Marshal(store.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.sealBytes(plaintext, secret)
}

func (s sealer) sealBytes(plaintext []byte, secret string) ([]byte, error) {
	salt := make([]byte, vaultSaltSize)
	if _, err := io.ReadFull(s.rand, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, vaultNonceSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	gcm, err := s.cipher(secret, salt)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, len(vaultMagic)+vaultSaltSize+vaultNonceSize+len(plaintext)+gcm.Overhead())
	blob = append(blob, vaultMagic...)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	return gcm.Seal(blob, nonce, plaintext, vaultMagic), nil
}

// open decrypts a blob and restores the store
func (s sealer) open(blob []byte, secret string) (*peers.Store, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	header := len(vaultMagic) + vaultSaltSize + vaultNonceSize
	if len(blob) < header || !bytes.Equal(blob[:len(vaultMagic)], vaultMagic) {
		return nil, ErrCorruptVault
	}
	salt := blob[len(vaultMagic) : len(vaultMagic)+vaultSaltSize]
	nonce := blob[len(vaultMagic)+vaultSaltSize : header]

	gcm, err := s.cipher(secret, salt)
	if err != nil {
		return nil, err
	}
	if len(blob)-header < gcm.Overhead() {
		return nil, ErrCorruptVault
	}

	plaintext, err := gcm.Open(nil, nonce, blob[header:], vaultMagic)
	if err != nil {
		return nil, ErrInvalidPassword
	}

	var snap peers.Snapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptVault, err)
	}

	store, err := peers.Restore(snap)
	if err != nil {
		if errors.Is(err, peers.ErrIncompatibleVersion) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptVault, err)
	}
	return store, nil
}

func (s sealer) cipher(secret string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(secret), salt, s.iterations, vaultKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
