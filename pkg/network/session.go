package network

import (
	"context"
	"crypto/rsa"
	"fmt"

	"go.uber.org/multierr"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
	"github.com/ZentaChain/zentalk-peer/pkg/handler"
	"github.com/ZentaChain/zentalk-peer/pkg/peers"
)

// Session binds a client to the local trust store so sends can look up
// and record tokens.
type Session struct {
	client *Client
	store  *peers.Store
	svc    *handler.Service
}

// NewSession creates a session over an open client
func NewSession(client *Client, store *peers.Store, svc *handler.Service) *Session {
	if svc == nil {
		svc = handler.NewService(nil, nil)
	}
	return &Session{client: client, store: store, svc: svc}
}

// Client returns the underlying client
func (s *Session) Client() *Client {
	return s.client
}

// SendPing sends a lone PING frame
func (s *Session) SendPing(ctx context.Context) error {
	return s.client.Send(ctx, s.svc.CreatePingPacket())
}

// SendMessage encrypts text for receiverPub and sends it with the token the
// receiver issued to us.
func (s *Session) SendMessage(ctx context.Context, receiverPub, text string) error {
	pub, token, err := s.recipient(receiverPub)
	if err != nil {
		return err
	}

	keyPacket, messagePacket, err := s.svc.CreateMessagePackets(token, pub, text)
	if err != nil {
		return err
	}
	return s.client.Send(ctx, keyPacket, messagePacket)
}

// SendSignature mints a token for receiverPub, records it as the token we
// expect back from that peer, then sends it. When the send fails the
// previous token is restored, as the peer still holds that one.
func (s *Session) SendSignature(ctx context.Context, receiverPub string) (string, error) {
	pub, err := crypto.DecodePublicKey(receiverPub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", peers.ErrInvalidPublicKey, err)
	}

	packet, token, err := s.svc.CreateSignaturePacket(s.store.PrivateKey(), pub)
	if err != nil {
		return "", err
	}

	previous, err := s.store.SwapReceivingToken(receiverPub, token)
	if err != nil {
		return "", err
	}

	if err := s.client.Send(ctx, packet); err != nil {
		if rerr := s.store.RevertReceivingToken(receiverPub, token, previous); rerr != nil {
			return "", multierr.Append(err, rerr)
		}
		return "", err
	}
	return token, nil
}

// SendDiscovery announces every known endpoint and public key, the local
// key included, to receiverPub.
func (s *Session) SendDiscovery(ctx context.Context, receiverPub string) error {
	pub, token, err := s.recipient(receiverPub)
	if err != nil {
		return err
	}

	keys := append([]string{s.store.LocalPublicKey()}, s.store.PublicKeys()...)
	keyPacket, discoveryPacket, err := s.svc.CreateDiscoveryPackets(token, pub, s.store.EndpointAddresses(), keys)
	if err != nil {
		return err
	}
	return s.client.Send(ctx, keyPacket, discoveryPacket)
}

func (s *Session) recipient(receiverPub string) (*rsa.PublicKey, string, error) {
	token, err := s.store.SendingToken(receiverPub)
	if err != nil {
		return nil, "", err
	}
	pub, err := crypto.DecodePublicKey(receiverPub)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", peers.ErrInvalidPublicKey, err)
	}
	return pub, token, nil
}
