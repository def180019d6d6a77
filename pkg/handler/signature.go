package handler

import (
	"crypto/rsa"
	"fmt"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
	"github.com/ZentaChain/zentalk-peer/pkg/protocol"
)

// CreateSignaturePacket mints a fresh trust token for the holder of
// receiverPub. The caller must remember the token as the one it expects the
// receiver to present from now on.
//
// The packet carries the sender's public key under a symmetric key wrapped
// for the receiver, the token wrapped for the receiver, and the sender's
// signature over Hash512(token).
func (s *Service) CreateSignaturePacket(senderPriv *rsa.PrivateKey, receiverPub *rsa.PublicKey) (protocol.Packet, string, error) {
	if senderPriv == nil || receiverPub == nil {
		return protocol.Packet{}, "", ErrNilKey
	}

	token, err := crypto.GenerateTrustToken()
	if err != nil {
		return protocol.Packet{}, "", err
	}

	senderPub, err := crypto.EncodePublicKey(&senderPriv.PublicKey)
	if err != nil {
		return protocol.Packet{}, "", err
	}

	pubCipher, pubKey, err := s.sym.Encrypt([]byte(senderPub))
	if err != nil {
		return protocol.Packet{}, "", fmt.Errorf("encrypt public key: %w", err)
	}
	wrappedPubKey, err := crypto.AsymmetricEncrypt(pubKey, receiverPub)
	if err != nil {
		return protocol.Packet{}, "", fmt.Errorf("wrap public key key: %w", err)
	}
	wrappedToken, err := crypto.AsymmetricEncrypt([]byte(token), receiverPub)
	if err != nil {
		return protocol.Packet{}, "", fmt.Errorf("wrap token: %w", err)
	}
	signature, err := crypto.Sign(crypto.Hash512([]byte(token)), senderPriv)
	if err != nil {
		return protocol.Packet{}, "", fmt.Errorf("sign token: %w", err)
	}

	payload, err := protocol.NewSignaturePayload(encode(wrappedPubKey), encode(pubCipher), encode(wrappedToken), encode(signature))
	if err != nil {
		return protocol.Packet{}, "", err
	}

	return protocol.NewPacket(payload), token, nil
}

// ReceiveSignature opens a SIGNATURE packet and verifies that the embedded
// public key signed the embedded token. It returns the sender's key and the
// token the receiver must present when sending to that key.
func (s *Service) ReceiveSignature(buf []byte, receiverPriv *rsa.PrivateKey) (*rsa.PublicKey, string, error) {
	payload, err := s.decode(buf, protocol.PacketSignature)
	if err != nil {
		return nil, "", err
	}
	sig := payload.(protocol.SignaturePayload)

	pubKey, err := s.unwrap(sig.Key(), receiverPriv)
	if err != nil {
		return nil, "", err
	}
	pubBytes, err := s.open(sig.PublicKey(), pubKey)
	if err != nil {
		return nil, "", err
	}
	senderPub, err := crypto.DecodePublicKey(string(pubBytes))
	if err != nil {
		return nil, "", s.reject(protocol.RejectUndefined, err)
	}

	tokenBytes, err := s.unwrap(sig.Token(), receiverPriv)
	if err != nil {
		return nil, "", err
	}

	signature, err := decode(sig.Signature())
	if err != nil {
		return nil, "", s.reject(protocol.RejectUndefined, err)
	}
	if !crypto.VerifySignature(crypto.Hash512(tokenBytes), signature, senderPub) {
		return nil, "", s.reject(protocol.RejectInvalidSignature, nil)
	}

	return senderPub, string(tokenBytes), nil
}
