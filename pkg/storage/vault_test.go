package storage

import (
	"crypto/rsa"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
	"github.com/ZentaChain/zentalk-peer/pkg/peers"
)

// testIterations keeps key derivation cheap in tests
const testIterations = 1000

var (
	keysOnce sync.Once
	localKey *rsa.PrivateKey
	peerKey  *rsa.PrivateKey
)

func testStore(t *testing.T) *peers.Store {
	t.Helper()
	keysOnce.Do(func() {
		var err error
		if localKey, err = crypto.GenerateRSAKeyPairSize(crypto.MinKeyBits); err != nil {
			panic(err)
		}
		if peerKey, err = crypto.GenerateRSAKeyPairSize(crypto.MinKeyBits); err != nil {
			panic(err)
		}
	})

	store, err := peers.NewStore(localKey, peers.Preferences{Verbose: true})
	require.NoError(t, err)

	pub, err := crypto.EncodePublicKey(&peerKey.PublicKey)
	require.NoError(t, err)
	_, _, err = store.AddPeer(pub)
	require.NoError(t, err)
	_, err = store.SetAlias(pub, "bob")
	require.NoError(t, err)
	_, err = store.SetReceivingToken(pub, "issued-token")
	require.NoError(t, err)
	_, err = store.AddEndpoint("10.1.2.3")
	require.NoError(t, err)

	return store
}

func assertSameStore(t *testing.T, want, got *peers.Store) {
	t.Helper()
	assert.Equal(t, want.LocalPublicKey(), got.LocalPublicKey())
	assert.Equal(t, want.EndpointAddresses(), got.EndpointAddresses())
	assert.True(t, got.Preferences().Verbose)

	wantPeers, gotPeers := want.Peers(), got.Peers()
	require.Len(t, gotPeers, len(wantPeers))
	for i := range wantPeers {
		assert.Equal(t, wantPeers[i].ID, gotPeers[i].ID)
		assert.Equal(t, wantPeers[i].PublicKey, gotPeers[i].PublicKey)
		assert.Equal(t, wantPeers[i].Alias, gotPeers[i].Alias)
		assert.Equal(t, wantPeers[i].ReceivingToken, gotPeers[i].ReceivingToken)
		assert.True(t, wantPeers[i].AddedAt.Equal(gotPeers[i].AddedAt))
	}
}

func TestFileVaultRoundTrip(t *testing.T) {
	store := testStore(t)
	vault := NewFileVault(filepath.Join(t.TempDir(), "nested", "peer.vault"), testIterations)

	assert.False(t, vault.Exists())
	_, err := vault.Load("secret")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, vault.Save(store, "secret"))
	assert.True(t, vault.Exists())

	info, err := os.Stat(vault.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := vault.Load("secret")
	require.NoError(t, err)
	assertSameStore(t, store, loaded)

	_, err = vault.Load("wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	_, err = vault.Load("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestFileVaultOverwrite(t *testing.T) {
	store := testStore(t)
	vault := NewFileVault(filepath.Join(t.TempDir(), "peer.vault"), testIterations)

	require.NoError(t, vault.Save(store, "first"))
	_, err := store.AddEndpoint("10.9.9.9")
	require.NoError(t, err)
	require.NoError(t, vault.Save(store, "second"))

	_, err = vault.Load("first")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	loaded, err := vault.Load("second")
	require.NoError(t, err)
	assert.Contains(t, loaded.EndpointAddresses(), "10.9.9.9")

	entries, err := os.ReadDir(filepath.Dir(vault.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileVaultCorrupt(t *testing.T) {
	store := testStore(t)
	vault := NewFileVault(filepath.Join(t.TempDir(), "peer.vault"), testIterations)
	require.NoError(t, vault.Save(store, "secret"))

	blob, err := os.ReadFile(vault.Path())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(vault.Path(), blob[:10], 0600))
	_, err = vault.Load("secret")
	assert.ErrorIs(t, err, ErrCorruptVault)

	bad := append([]byte("XXXX"), blob[4:]...)
	require.NoError(t, os.WriteFile(vault.Path(), bad, 0600))
	_, err = vault.Load("secret")
	assert.ErrorIs(t, err, ErrCorruptVault)

	flipped := append([]byte(nil), blob...)
	flipped[len(flipped)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(vault.Path(), flipped, 0600))
	_, err = vault.Load("secret")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestVaultIncompatibleVersion(t *testing.T) {
	store := testStore(t)
	s := newSealer(testIterations)

	snap := store.Snapshot()
	snap.Version = "9.0"
	plaintext, err := json.Marshal(snap)
	require.NoError(t, err)

	blob, err := s.sealBytes(plaintext, "secret")
	require.NoError(t, err)

	_, err = s.open(blob, "secret")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)

	garbage, err := s.sealBytes([]byte("{not json"), "secret")
	require.NoError(t, err)
	_, err = s.open(garbage, "secret")
	assert.ErrorIs(t, err, ErrCorruptVault)
}

func TestSQLiteVault(t *testing.T) {
	store := testStore(t)

	vault, err := NewSQLiteVault(filepath.Join(t.TempDir(), "peer.db"), testIterations)
	require.NoError(t, err)
	defer vault.Close()

	_, err = vault.Load("secret")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = vault.UpdatedAt()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, vault.Save(store, "secret"))
	require.NoError(t, vault.Save(store, "secret"), "second save upserts")

	var rows int
	require.NoError(t, vault.db.QueryRow(`SELECT COUNT(*) FROM vault`).Scan(&rows))
	assert.Equal(t, 1, rows)

	loaded, err := vault.Load("secret")
	require.NoError(t, err)
	assertSameStore(t, store, loaded)

	_, err = vault.Load("wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	updated, err := vault.UpdatedAt()
	require.NoError(t, err)
	assert.False(t, updated.IsZero())
}

func TestVaultInterface(t *testing.T) {
	var _ Vault = (*FileVault)(nil)
	var _ Vault = (*SQLiteVault)(nil)
}
