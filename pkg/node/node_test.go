package node

import (
	"context"
	"crypto/rsa"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
	"github.com/ZentaChain/zentalk-peer/pkg/handler"
	"github.com/ZentaChain/zentalk-peer/pkg/network"
	"github.com/ZentaChain/zentalk-peer/pkg/peers"
	"github.com/ZentaChain/zentalk-peer/pkg/protocol"
)

var (
	keysOnce sync.Once
	testKeys []*rsa.PrivateKey
)

func keys(t *testing.T) []*rsa.PrivateKey {
	t.Helper()
	keysOnce.Do(func() {
		for i := 0; i < 3; i++ {
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

type received struct {
	from peers.RemotePeer
	text string
}

// events collects observer callbacks
type events struct {
	messages   chan received
	signatures chan peers.RemotePeer
	discovery  chan []string
	pings      chan string
	rejected   chan error
}

func newEvents() *events {
	return &events{
		messages:   make(chan received, 8),
		signatures: make(chan peers.RemotePeer, 8),
		discovery:  make(chan []string, 8),
		pings:      make(chan string, 8),
		rejected:   make(chan error, 8),
	}
}

func (e *events) observer() Observer {
	return Observer{
		OnPing:      func(endpoint string) { e.pings <- endpoint },
		OnMessage:   func(from peers.RemotePeer, text string) { e.messages <- received{from, text} },
		OnSignature: func(from peers.RemotePeer) { e.signatures <- from },
		OnDiscovery: func(_ peers.RemotePeer, _ []string, announced []string) { e.discovery <- announced },
		OnRejected:  func(err error) { e.rejected <- err },
	}
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

type testNode struct {
	*Node
	events *events
	addr   string
}

func startNode(t *testing.T, priv *rsa.PrivateKey) *testNode {
	t.Helper()
	store, err := peers.NewStore(priv, peers.DefaultPreferences())
	require.NoError(t, err)

	cfg := network.ConfigFromPreferences(store.Preferences())
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.DiscoverOnStartup = false
	cfg.DiscoveryInterval = time.Hour

	ev := newEvents()
	n, err := New(store, Options{
		Config:     &cfg,
		Registerer: prometheus.NewRegistry(),
		Observer:   ev.observer(),
	})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { n.Close() })

	return &testNode{Node: n, events: ev, addr: n.Addr().String()}
}

// trust has b issue a token to a, so a may send to b
func trust(t *testing.T, a, b *testNode) string {
	t.Helper()
	token, err := b.SendSignature(context.Background(), a.addr, a.Store().LocalPublicKey())
	require.NoError(t, err)

	from := wait(t, a.events.signatures)
	assert.Equal(t, b.Store().LocalPublicKey(), from.PublicKey)
	return token
}

func wantReason(t *testing.T, err error, want protocol.RejectionReason) {
	t.Helper()
	reason, ok := protocol.RejectionReasonOf(err)
	require.True(t, ok, "want a rejection, got %v", err)
	assert.Equal(t, want, reason)
}

func TestHelloWorld(t *testing.T) {
	k := keys(t)
	a, b := startNode(t, k[0]), startNode(t, k[1])

	token := trust(t, a, b)

	sendingToken, err := a.Store().SendingToken(b.Store().LocalPublicKey())
	require.NoError(t, err)
	assert.Equal(t, token, sendingToken)

	require.NoError(t, a.SendMessage(context.Background(), b.addr, b.Store().LocalPublicKey(), "Hello World"))

	got := wait(t, b.events.messages)
	assert.Equal(t, "Hello World", got.text)
	assert.Equal(t, a.Store().LocalPublicKey(), got.from.PublicKey)

	peer, err := b.Store().PeerByPublicKey(a.Store().LocalPublicKey())
	require.NoError(t, err)
	assert.False(t, peer.LastSeen.IsZero())
}

func TestMessageByAlias(t *testing.T) {
	k := keys(t)
	a, b := startNode(t, k[0]), startNode(t, k[1])
	trust(t, a, b)

	_, err := a.Store().SetAlias(b.Store().LocalPublicKey(), "bob")
	require.NoError(t, err)

	require.NoError(t, a.SendMessage(context.Background(), b.addr, "bob", "hi bob"))
	assert.Equal(t, "hi bob", wait(t, b.events.messages).text)
}

func TestUnknownTokenIsRejected(t *testing.T) {
	k := keys(t)
	b, c := startNode(t, k[1]), startNode(t, k[2])

	// c invents a token b never issued
	_, err := c.Store().SetSendingToken(b.Store().LocalPublicKey(), "forged-token")
	require.NoError(t, err)

	require.NoError(t, c.SendMessage(context.Background(), b.addr, b.Store().LocalPublicKey(), "let me in"))

	wantReason(t, wait(t, b.events.rejected), protocol.RejectInvalidIdentityProve)
	assert.Equal(t, 1.0, testutil.ToFloat64(b.Metrics().Rejections.WithLabelValues("InvalidIdentityProve")))
	assert.Empty(t, b.events.messages)
}

func TestMessageForAnotherKeyIsRejected(t *testing.T) {
	k := keys(t)
	a, b := startNode(t, k[0]), startNode(t, k[1])

	// a encrypts for k[2] but delivers to b
	_, err := a.Store().SetSendingToken(pub(t, k[2]), "token")
	require.NoError(t, err)
	require.NoError(t, a.SendMessage(context.Background(), b.addr, pub(t, k[2]), "misrouted"))

	wantReason(t, wait(t, b.events.rejected), protocol.RejectInvalidPrivateKey)
}

func TestSendWithoutTrust(t *testing.T) {
	k := keys(t)
	a, b := startNode(t, k[0]), startNode(t, k[1])

	err := a.SendMessage(context.Background(), b.addr, b.Store().LocalPublicKey(), "hi")
	assert.ErrorIs(t, err, peers.ErrPeerNotFound)

	_, _, err = a.Store().AddPeer(b.Store().LocalPublicKey())
	require.NoError(t, err)
	err = a.SendMessage(context.Background(), b.addr, b.Store().LocalPublicKey(), "hi")
	assert.ErrorIs(t, err, peers.ErrNoSendingToken)
}

func TestDuplicateFramesAreDropped(t *testing.T) {
	k := keys(t)
	a, b := startNode(t, k[0]), startNode(t, k[1])
	token := trust(t, a, b)

	svc := handler.NewService(nil, nil)
	keyPacket, messagePacket, err := svc.CreateMessagePackets(token, &k[1].PublicKey, "once")
	require.NoError(t, err)
	frame, err := protocol.BuildFrame(keyPacket, messagePacket)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", b.addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(frame)
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)
	pingFrame, err := protocol.BuildFrame(svc.CreatePingPacket())
	require.NoError(t, err)
	_, err = conn.Write(pingFrame)
	require.NoError(t, err)

	assert.Equal(t, "once", wait(t, b.events.messages).text)
	wait(t, b.events.pings)
	assert.Empty(t, b.events.messages)
	assert.Equal(t, 1.0, testutil.ToFloat64(b.Metrics().Duplicates))
}

func TestDiscoveryTeachesPeers(t *testing.T) {
	k := keys(t)
	a, b := startNode(t, k[0]), startNode(t, k[1])
	trust(t, a, b)

	_, _, err := a.Store().AddPeer(pub(t, k[2]))
	require.NoError(t, err)
	_, err = a.Store().AddEndpoint("127.0.0.1")
	require.NoError(t, err)

	require.NoError(t, a.SendDiscovery(context.Background(), b.addr, b.Store().LocalPublicKey()))

	announced := wait(t, b.events.discovery)
	assert.Contains(t, announced, pub(t, k[2]))
	assert.Contains(t, announced, b.Store().LocalPublicKey())

	_, err = b.Store().PeerByPublicKey(pub(t, k[2]))
	assert.NoError(t, err)
	_, err = b.Store().PeerByPublicKey(b.Store().LocalPublicKey())
	assert.ErrorIs(t, err, peers.ErrPeerNotFound)
	assert.Equal(t, []string{"127.0.0.1"}, b.Store().EndpointAddresses())
}

func TestPingMarksEndpointConnected(t *testing.T) {
	k := keys(t)
	a, b := startNode(t, k[0]), startNode(t, k[1])

	_, err := b.Store().AddEndpoint("127.0.0.1")
	require.NoError(t, err)

	require.NoError(t, a.Ping(context.Background(), b.addr))
	assert.Equal(t, "127.0.0.1", wait(t, b.events.pings))
	assert.True(t, b.Store().Endpoints()[0].Connected)
}

func TestNodeLifecycle(t *testing.T) {
	k := keys(t)
	store, err := peers.NewStore(k[0], peers.DefaultPreferences())
	require.NoError(t, err)

	cfg := network.ConfigFromPreferences(store.Preferences())
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.DiscoverOnStartup = false

	n, err := New(store, Options{Config: &cfg})
	require.NoError(t, err)
	assert.Equal(t, network.StateIdle, n.State())

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, network.StateListening, n.State())
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, n.Close())
	assert.Equal(t, network.StateStopped, n.State())
	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Start(context.Background()), ErrClosed)
}
