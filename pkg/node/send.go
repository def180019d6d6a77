package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZentaChain/zentalk-peer/pkg/network"
	"github.com/ZentaChain/zentalk-peer/pkg/peers"
)

// Ping sends a PING frame to endpoint
func (n *Node) Ping(ctx context.Context, endpoint string) error {
	return n.withSession(ctx, endpoint, func(s *network.Session) error {
		return s.SendPing(ctx)
	})
}

// SendMessage sends text to the peer named by ref (id, alias or public key)
// at endpoint.
func (n *Node) SendMessage(ctx context.Context, endpoint, ref, text string) error {
	peer, err := n.store.ResolvePeer(ref)
	if err != nil {
		return err
	}
	return n.withSession(ctx, endpoint, func(s *network.Session) error {
		return s.SendMessage(ctx, peer.PublicKey, text)
	})
}

// SendSignature issues a fresh token to the peer named by ref. An unknown
// public key is added to the store first.
func (n *Node) SendSignature(ctx context.Context, endpoint, ref string) (string, error) {
	peer, err := n.store.ResolvePeer(ref)
	if errors.Is(err, peers.ErrPeerNotFound) {
		peer, _, err = n.store.AddPeer(ref)
	}
	if err != nil {
		return "", err
	}

	var token string
	err = n.withSession(ctx, endpoint, func(s *network.Session) error {
		var err error
		token, err = s.SendSignature(ctx, peer.PublicKey)
		return err
	})
	return token, err
}

// SendDiscovery announces known endpoints and keys to the peer named by ref
func (n *Node) SendDiscovery(ctx context.Context, endpoint, ref string) error {
	peer, err := n.store.ResolvePeer(ref)
	if err != nil {
		return err
	}
	return n.withSession(ctx, endpoint, func(s *network.Session) error {
		return s.SendDiscovery(ctx, peer.PublicKey)
	})
}

// withSession runs send over a pooled client, dropping the client when the
// send fails at the connection level.
func (n *Node) withSession(ctx context.Context, endpoint string, send func(*network.Session) error) error {
	client, err := n.pool.Get(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", endpoint, err)
	}

	err = send(network.NewSession(client, n.store, n.svc))
	if errors.Is(err, network.ErrConnectionFailed) || errors.Is(err, network.ErrConnectionClosed) {
		n.pool.Remove(endpoint)
	}
	return err
}
