package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ZentaChain/zentalk-peer/pkg/peers"
)

// FileVault keeps the encrypted store in a single file
type FileVault struct {
	path string
	sealer
}

// NewFileVault creates a vault at path. iterations <= 0 uses VaultIterations.
func NewFileVault(path string, iterations int) *FileVault {
	return &FileVault{path: path, sealer: newSealer(iterations)}
}

// Path returns the vault file location
func (v *FileVault) Path() string {
	return v.path
}

// Exists reports whether a vault file is present
func (v *FileVault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// Load reads and decrypts the vault
func (v *FileVault) Load(secret string) (*peers.Store, error) {
	blob, err := os.ReadFile(v.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read vault: %w", err)
	}
	return v.open(blob, secret)
}

// Save encrypts the store and replaces the vault file atomically
func (v *FileVault) Save(store *peers.Store, secret string) error {
	blob, err := v.seal(store, secret)
	if err != nil {
		return err
	}

	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write vault: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close vault: %w", err)
	}

	if err := os.Rename(tmp.Name(), v.path); err != nil {
		return fmt.Errorf("replace vault: %w", err)
	}
	return nil
}
