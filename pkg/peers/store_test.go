package peers

import (
	"crypto/rsa"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
)

var (
	keysOnce sync.Once
	testKeys []*rsa.PrivateKey
)

// keys returns n cached 2048-bit keys; the first is used as the local key
func keys(t *testing.T) []*rsa.PrivateKey {
	t.Helper()
	keysOnce.Do(func() {
		for i := 0; i < 4; i++ {
			k, err := crypto.GenerateRSAKeyPairSize(crypto.MinKeyBits)
			if err != nil {
				panic(err)
			}
			testKeys = append(testKeys, k)
		}
	})
	return testKeys
}

func pub(t *testing.T, k *rsa.PrivateKey) string {
	t.Helper()
	s, err := crypto.EncodePublicKey(&k.PublicKey)
	require.NoError(t, err)
	return s
}

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(keys(t)[0], Preferences{})
	require.NoError(t, err)
	return store
}

func TestAddPeerIdempotent(t *testing.T) {
	store := newStore(t)
	k := pub(t, keys(t)[1])

	first, added, err := store.AddPeer(k)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, first.ID)
	assert.False(t, first.AddedAt.IsZero())

	again, added, err := store.AddPeer("  " + k + "\n")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, store.Peers(), 1)

	second, added, err := store.AddPeer(pub(t, keys(t)[2]))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 2, second.ID)
}

func TestAddPeerRejectsInvalidKeys(t *testing.T) {
	store := newStore(t)

	for _, k := range []string{"", "   ", "not-base64!", "aGVsbG8="} {
		_, _, err := store.AddPeer(k)
		assert.ErrorIs(t, err, ErrInvalidPublicKey, "key %q", k)
	}

	_, _, err := store.AddPeer(store.LocalPublicKey())
	assert.ErrorIs(t, err, ErrSelfPeer)
	assert.Empty(t, store.Peers())
}

func TestAddPeerAcceptsPEM(t *testing.T) {
	store := newStore(t)
	k := keys(t)[1]

	pemData, err := crypto.ExportPublicKeyPEM(&k.PublicKey)
	require.NoError(t, err)

	p, added, err := store.AddPeer(string(pemData))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, pub(t, k), p.PublicKey)

	// Same identity in its compact form
	_, added, err = store.AddPeer(pub(t, k))
	require.NoError(t, err)
	assert.False(t, added)
}

func TestLookups(t *testing.T) {
	store := newStore(t)
	k1, k2 := pub(t, keys(t)[1]), pub(t, keys(t)[2])

	p1, _, err := store.AddPeer(k1)
	require.NoError(t, err)
	_, _, err = store.AddPeer(k2)
	require.NoError(t, err)

	_, err = store.SetAlias(k1, "alice")
	require.NoError(t, err)

	byKey, err := store.PeerByPublicKey(k1)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, byKey.ID)

	byAlias, err := store.PeerByAlias("alice")
	require.NoError(t, err)
	assert.Equal(t, k1, byAlias.PublicKey)

	byID, err := store.PeerByID(p1.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Alias)

	for _, ref := range []string{strconv.Itoa(p1.ID), "alice", k1} {
		resolved, err := store.ResolvePeer(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, p1.ID, resolved.ID)
	}

	_, err = store.PeerByAlias("bob")
	assert.ErrorIs(t, err, ErrPeerNotFound)
	_, err = store.PeerByID(99)
	assert.ErrorIs(t, err, ErrPeerNotFound)
	_, err = store.ResolvePeer("nobody")
	assert.ErrorIs(t, err, ErrPeerNotFound)
	_, err = store.PeerByPublicKey(pub(t, keys(t)[3]))
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestAliasRules(t *testing.T) {
	store := newStore(t)
	k1, k2 := pub(t, keys(t)[1]), pub(t, keys(t)[2])

	_, err := store.SetAlias(k1, "alice")
	assert.ErrorIs(t, err, ErrPeerNotFound, "aliasing an unknown key")

	_, _, err = store.AddPeer(k1)
	require.NoError(t, err)
	_, _, err = store.AddPeer(k2)
	require.NoError(t, err)

	_, err = store.SetAlias(k1, "alice")
	require.NoError(t, err)

	_, err = store.SetAlias(k2, "alice")
	assert.ErrorIs(t, err, ErrAmbiguousLookup, "duplicate alias")

	_, err = store.SetAlias(k1, "alicia")
	require.NoError(t, err, "re-aliasing overwrites")
	_, err = store.PeerByAlias("alice")
	assert.ErrorIs(t, err, ErrPeerNotFound)

	_, err = store.SetAlias(k2, "42")
	assert.ErrorIs(t, err, ErrInvalidAlias)
	_, err = store.SetAlias(k2, "two words")
	assert.ErrorIs(t, err, ErrInvalidAlias)

	cleared, err := store.SetAlias(k1, "")
	require.NoError(t, err)
	assert.Empty(t, cleared.Alias)
}

func TestResolvePeerAmbiguous(t *testing.T) {
	store := newStore(t)
	k1, k2 := pub(t, keys(t)[1]), pub(t, keys(t)[2])

	_, _, err := store.AddPeer(k1)
	require.NoError(t, err)
	_, _, err = store.AddPeer(k2)
	require.NoError(t, err)

	// Alias of peer 1 equal to peer 2's public key
	store.mu.Lock()
	store.peers[0].Alias = k2
	store.mu.Unlock()

	_, err = store.ResolvePeer(k2)
	assert.ErrorIs(t, err, ErrAmbiguousLookup)
}

func TestTokens(t *testing.T) {
	store := newStore(t)
	k1, k2 := pub(t, keys(t)[1]), pub(t, keys(t)[2])

	token, err := crypto.GenerateTrustToken()
	require.NoError(t, err)

	// Learning through a token
	p, err := store.SetReceivingToken(k1, token)
	require.NoError(t, err)
	assert.Equal(t, 1, p.ID)

	found, err := store.PeerByReceivingToken(token)
	require.NoError(t, err)
	assert.Equal(t, k1, found.PublicKey)

	_, err = store.PeerByReceivingToken("unknown-token")
	assert.ErrorIs(t, err, ErrPeerNotFound)
	_, err = store.PeerByReceivingToken("")
	assert.ErrorIs(t, err, ErrPeerNotFound)

	_, err = store.SetReceivingToken(k2, token)
	assert.ErrorIs(t, err, ErrAmbiguousLookup, "token issued twice")

	_, err = store.SendingToken(k1)
	assert.ErrorIs(t, err, ErrNoSendingToken)

	_, err = store.SetSendingToken(k1, "theirs")
	require.NoError(t, err)
	sending, err := store.SendingToken(k1)
	require.NoError(t, err)
	assert.Equal(t, "theirs", sending)

	_, err = store.SetSendingToken(k1, " ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSwapAndRevertReceivingToken(t *testing.T) {
	store := newStore(t)
	k1 := pub(t, keys(t)[1])

	previous, err := store.SwapReceivingToken(k1, "first")
	require.NoError(t, err)
	assert.Empty(t, previous)

	previous, err = store.SwapReceivingToken(k1, "second")
	require.NoError(t, err)
	assert.Equal(t, "first", previous)

	require.NoError(t, store.RevertReceivingToken(k1, "second", "first"))
	found, err := store.PeerByReceivingToken("first")
	require.NoError(t, err)
	assert.Equal(t, k1, found.PublicKey)
	_, err = store.PeerByReceivingToken("second")
	assert.ErrorIs(t, err, ErrPeerNotFound)

	// A newer token is left alone
	_, err = store.SwapReceivingToken(k1, "third")
	require.NoError(t, err)
	require.NoError(t, store.RevertReceivingToken(k1, "second", "first"))
	_, err = store.PeerByReceivingToken("third")
	require.NoError(t, err)

	assert.ErrorIs(t, store.RevertReceivingToken(pub(t, keys(t)[2]), "x", ""), ErrPeerNotFound)
}

func TestTouch(t *testing.T) {
	store := newStore(t)
	k1 := pub(t, keys(t)[1])

	assert.ErrorIs(t, store.Touch(k1), ErrPeerNotFound)

	_, _, err := store.AddPeer(k1)
	require.NoError(t, err)
	require.NoError(t, store.Touch(k1))

	p, err := store.PeerByPublicKey(k1)
	require.NoError(t, err)
	assert.False(t, p.LastSeen.IsZero())
}

func TestEndpoints(t *testing.T) {
	store := newStore(t)

	added, err := store.AddEndpoint("10.0.0.1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = store.AddEndpoint("/ip4/10.0.0.1/tcp/8391")
	require.NoError(t, err)
	assert.False(t, added, "same address as multiaddr")

	added, err = store.AddEndpoint("/ip4/192.168.1.7")
	require.NoError(t, err)
	assert.True(t, added)

	for _, bad := range []string{"", "localhost", "300.1.1.1", "::1", "fe80::1", "/ip6/::1/tcp/1", "/dns4/example.com"} {
		_, err := store.AddEndpoint(bad)
		assert.ErrorIs(t, err, ErrInvalidEndpoint, "endpoint %q", bad)
	}

	assert.Equal(t, []string{"10.0.0.1", "192.168.1.7"}, store.EndpointAddresses())

	require.NoError(t, store.SetEndpointConnected("10.0.0.1", true))
	assert.True(t, store.Endpoints()[0].Connected)
	assert.ErrorIs(t, store.SetEndpointConnected("10.9.9.9", true), ErrEndpointNotFound)

	maddr, err := store.Endpoints()[1].Multiaddr(8391)
	require.NoError(t, err)
	assert.Equal(t, "/ip4/192.168.1.7/tcp/8391", maddr.String())
}

func TestConcurrentAccess(t *testing.T) {
	store := newStore(t)
	k1 := pub(t, keys(t)[1])

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = store.AddPeer(k1)
			_, _ = store.AddEndpoint("10.0.0." + strconv.Itoa(i%4+1))
			_ = store.Peers()
			_, _ = store.PeerByReceivingToken("x")
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.Peers(), 1)
	assert.Len(t, store.Endpoints(), 4)
}

func TestPreferencesDefaults(t *testing.T) {
	store := newStore(t)
	prefs := store.Preferences()
	assert.Equal(t, DefaultPreferences().Port, prefs.Port)
	assert.Equal(t, DefaultPreferences().DiscoveryInterval, prefs.DiscoveryInterval)

	prefs.Verbose = true
	prefs.Port = 9000
	store.SetPreferences(prefs)
	assert.True(t, store.Preferences().Verbose)
	assert.Equal(t, 9000, store.Preferences().Port)
}
