// Package handler turns send intents into encrypted packets and received
// packet buffers back into plaintext, using a hybrid RSA + AES scheme.
//
// Every content field is encrypted under fresh symmetric key material and
// only the key material is wrapped with the receiver's RSA public key.
//
// Trust tokens are directional. The side that mints a token with
// CreateSignaturePacket is the side that later verifies it: the receiver
// attaches the token to everything it sends back, and the minting side
// resolves incoming tokens against the tokens it issued.
package handler

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
	"github.com/ZentaChain/zentalk-peer/pkg/logging"
	"github.com/ZentaChain/zentalk-peer/pkg/protocol"
)

// keyListSeparator joins the two list keys of a discovery KEY packet.
// Base64 never produces it.
const keyListSeparator = "|"

var (
	ErrEmptyToken   = errors.New("trust token is empty")
	ErrNilKey       = errors.New("rsa key is nil")
	ErrPacketType   = errors.New("unexpected packet type")
	ErrMalformedB64 = errors.New("property is not valid base64")
)

// Service builds and opens packets. It holds no key state; keys are passed
// to every call.
type Service struct {
	sym *crypto.Symmetric
	log logging.Sink
}

// NewService creates a Service. A nil sym uses crypto.DefaultSymmetric and a
// nil log discards output.
func NewService(sym *crypto.Symmetric, log logging.Sink) *Service {
	if sym == nil {
		sym = crypto.DefaultSymmetric
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Service{sym: sym, log: log}
}

// ===== PING =====

// CreatePingPacket returns an empty PING packet
func (s *Service) CreatePingPacket() protocol.Packet {
	return protocol.NewPacket(protocol.PingPayload{})
}

// ReceivePing decodes a PING buffer. Any property makes it invalid.
func (s *Service) ReceivePing(buf []byte) error {
	_, err := s.decode(buf, protocol.PacketPing)
	return err
}

// ===== MESSAGE =====

// CreateMessagePackets encrypts message and senderToken for the holder of
// receiverPub. The returned KEY and MESSAGE packets must travel together.
func (s *Service) CreateMessagePackets(senderToken string, receiverPub *rsa.PublicKey, message string) (protocol.Packet, protocol.Packet, error) {
	if senderToken == "" {
		return protocol.Packet{}, protocol.Packet{}, ErrEmptyToken
	}
	if receiverPub == nil {
		return protocol.Packet{}, protocol.Packet{}, ErrNilKey
	}

	messageCipher, messageKey, err := s.sym.Encrypt([]byte(message))
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, fmt.Errorf("encrypt message: %w", err)
	}
	tokenCipher, tokenKey, err := s.sym.Encrypt([]byte(senderToken))
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, fmt.Errorf("encrypt token: %w", err)
	}

	wrappedMessageKey, err := crypto.AsymmetricEncrypt(messageKey, receiverPub)
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, fmt.Errorf("wrap message key: %w", err)
	}
	wrappedTokenKey, err := crypto.AsymmetricEncrypt(tokenKey, receiverPub)
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, fmt.Errorf("wrap token key: %w", err)
	}

	keyPayload, err := protocol.NewKeyPayload(encode(wrappedMessageKey), encode(wrappedTokenKey))
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, err
	}
	messagePayload, err := protocol.NewMessagePayload(encode(messageCipher), encode(tokenCipher))
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, err
	}

	return protocol.NewPacket(keyPayload), protocol.NewPacket(messagePayload), nil
}

// ReceiveMessage opens a KEY + MESSAGE pair and returns the sender's token and
// the plaintext. The token still has to be resolved against a trust store.
func (s *Service) ReceiveMessage(keyBuf, messageBuf []byte, receiverPriv *rsa.PrivateKey) (token, message string, err error) {
	keyPayload, err := s.decodeKey(keyBuf)
	if err != nil {
		return "", "", err
	}
	payload, err := s.decode(messageBuf, protocol.PacketMessage)
	if err != nil {
		return "", "", err
	}
	messagePayload := payload.(protocol.MessagePayload)

	messageKey, err := s.unwrap(keyPayload.ContentKey(), receiverPriv)
	if err != nil {
		return "", "", err
	}
	tokenKey, err := s.unwrap(keyPayload.TokenKey(), receiverPriv)
	if err != nil {
		return "", "", err
	}

	plaintext, err := s.open(messagePayload.Content(), messageKey)
	if err != nil {
		return "", "", err
	}
	tokenBytes, err := s.open(messagePayload.Token(), tokenKey)
	if err != nil {
		return "", "", err
	}

	return string(tokenBytes), string(plaintext), nil
}

// ===== shared helpers =====

func (s *Service) decode(buf []byte, want protocol.PacketType) (protocol.Payload, error) {
	packet, err := protocol.DecodePacket(buf)
	if err != nil {
		return nil, s.reject(protocol.RejectUndefined, err)
	}
	if packet.Type != want {
		return nil, s.reject(protocol.RejectUndefined, fmt.Errorf("%w: got %s, want %s", ErrPacketType, packet.Type, want))
	}
	return packet.Payload, nil
}

func (s *Service) decodeKey(buf []byte) (protocol.KeyPayload, error) {
	payload, err := s.decode(buf, protocol.PacketKey)
	if err != nil {
		return protocol.KeyPayload{}, err
	}
	return payload.(protocol.KeyPayload), nil
}

// unwrap base64-decodes and RSA-decrypts a wrapped key
func (s *Service) unwrap(value string, priv *rsa.PrivateKey) ([]byte, error) {
	raw, err := decode(value)
	if err != nil {
		return nil, s.reject(protocol.RejectUndefined, err)
	}
	plain, ok := crypto.AsymmetricDecrypt(raw, priv)
	if !ok {
		return nil, s.reject(protocol.RejectInvalidPrivateKey, nil)
	}
	return plain, nil
}

// open base64-decodes and symmetrically decrypts a content field
func (s *Service) open(value string, key []byte) ([]byte, error) {
	raw, err := decode(value)
	if err != nil {
		return nil, s.reject(protocol.RejectUndefined, err)
	}
	plain, ok := s.sym.Decrypt(raw, key)
	if !ok {
		return nil, s.reject(protocol.RejectInvalidSymmetricKey, nil)
	}
	return plain, nil
}

func (s *Service) reject(reason protocol.RejectionReason, cause error) error {
	err := protocol.Reject(reason, cause)
	s.log.LogWarning("packet rejected", err)
	return err
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedB64, err)
	}
	return b, nil
}
