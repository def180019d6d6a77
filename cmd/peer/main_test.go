package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
)

func TestExportKeys(t *testing.T) {
	priv, err := crypto.GenerateRSAKeyPairSize(crypto.MinKeyBits)
	require.NoError(t, err)

	dir := t.TempDir()
	pubPath := filepath.Join(dir, "peer.pub")
	privPath := filepath.Join(dir, "peer.key")
	require.NoError(t, exportKeys(priv, pubPath, privPath))

	pubPEM, err := crypto.LoadKeyFromFile(pubPath)
	require.NoError(t, err)
	pub, err := crypto.ImportPublicKeyPEM(pubPEM)
	require.NoError(t, err)
	assert.Equal(t, 0, priv.PublicKey.N.Cmp(pub.N))

	privPEM, err := crypto.LoadKeyFromFile(privPath)
	require.NoError(t, err)
	imported, err := crypto.ImportPrivateKeyPEM(privPEM)
	require.NoError(t, err)
	assert.Equal(t, 0, priv.D.Cmp(imported.D))
}

func TestExportKeysSkipsEmptyPaths(t *testing.T) {
	priv, err := crypto.GenerateRSAKeyPairSize(crypto.MinKeyBits)
	require.NoError(t, err)

	privPath := filepath.Join(t.TempDir(), "peer.key")
	require.NoError(t, exportKeys(priv, "", privPath))

	_, err = crypto.LoadKeyFromFile(privPath)
	assert.NoError(t, err)
}
