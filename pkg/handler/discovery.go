package handler

import (
	"crypto/rsa"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
	"github.com/ZentaChain/zentalk-peer/pkg/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CreateDiscoveryPackets announces endpoints and public keys to the holder of
// receiverPub. Each list and the token are encrypted under their own key; the
// two list keys share one RSA block.
func (s *Service) CreateDiscoveryPackets(senderToken string, receiverPub *rsa.PublicKey, endpoints, publicKeys []string) (protocol.Packet, protocol.Packet, error) {
	if senderToken == "" {
		return protocol.Packet{}, protocol.Packet{}, ErrEmptyToken
	}
	if receiverPub == nil {
		return protocol.Packet{}, protocol.Packet{}, ErrNilKey
	}

	endpointsJSON, err := marshalList(endpoints)
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, err
	}
	keysJSON, err := marshalList(publicKeys)
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, err
	}

	endpointsCipher, endpointsKey, err := s.sym.Encrypt(endpointsJSON)
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, fmt.Errorf("encrypt endpoints: %w", err)
	}
	keysCipher, keysKey, err := s.sym.Encrypt(keysJSON)
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, fmt.Errorf("encrypt public keys: %w", err)
	}
	tokenCipher, tokenKey, err := s.sym.Encrypt([]byte(senderToken))
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, fmt.Errorf("encrypt token: %w", err)
	}

	listKeys := encode(endpointsKey) + keyListSeparator + encode(keysKey)
	wrappedListKeys, err := crypto.AsymmetricEncrypt([]byte(listKeys), receiverPub)
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, fmt.Errorf("wrap list keys: %w", err)
	}
	wrappedTokenKey, err := crypto.AsymmetricEncrypt(tokenKey, receiverPub)
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, fmt.Errorf("wrap token key: %w", err)
	}

	keyPayload, err := protocol.NewKeyPayload(encode(wrappedListKeys), encode(wrappedTokenKey))
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, err
	}
	discoveryPayload, err := protocol.NewDiscoveryPayload(encode(endpointsCipher), encode(keysCipher), encode(tokenCipher))
	if err != nil {
		return protocol.Packet{}, protocol.Packet{}, err
	}

	return protocol.NewPacket(keyPayload), protocol.NewPacket(discoveryPayload), nil
}

// ReceiveDiscovery opens a KEY + DISCOVERY pair
func (s *Service) ReceiveDiscovery(keyBuf, discoveryBuf []byte, receiverPriv *rsa.PrivateKey) (endpoints, publicKeys []string, token string, err error) {
	keyPayload, err := s.decodeKey(keyBuf)
	if err != nil {
		return nil, nil, "", err
	}
	payload, err := s.decode(discoveryBuf, protocol.PacketDiscovery)
	if err != nil {
		return nil, nil, "", err
	}
	discovery := payload.(protocol.DiscoveryPayload)

	listKeys, err := s.unwrap(keyPayload.ContentKey(), receiverPriv)
	if err != nil {
		return nil, nil, "", err
	}
	tokenKey, err := s.unwrap(keyPayload.TokenKey(), receiverPriv)
	if err != nil {
		return nil, nil, "", err
	}

	parts := strings.Split(string(listKeys), keyListSeparator)
	if len(parts) != 2 {
		return nil, nil, "", s.reject(protocol.RejectUndefined, fmt.Errorf("list key block has %d parts", len(parts)))
	}
	endpointsKey, err := decode(parts[0])
	if err != nil {
		return nil, nil, "", s.reject(protocol.RejectUndefined, err)
	}
	keysKey, err := decode(parts[1])
	if err != nil {
		return nil, nil, "", s.reject(protocol.RejectUndefined, err)
	}

	endpointsJSON, err := s.open(discovery.Endpoints(), endpointsKey)
	if err != nil {
		return nil, nil, "", err
	}
	keysJSON, err := s.open(discovery.PublicKeys(), keysKey)
	if err != nil {
		return nil, nil, "", err
	}
	tokenBytes, err := s.open(discovery.Token(), tokenKey)
	if err != nil {
		return nil, nil, "", err
	}

	if err := json.Unmarshal(endpointsJSON, &endpoints); err != nil {
		return nil, nil, "", s.reject(protocol.RejectUndefined, fmt.Errorf("endpoint list: %w", err))
	}
	if err := json.Unmarshal(keysJSON, &publicKeys); err != nil {
		return nil, nil, "", s.reject(protocol.RejectUndefined, fmt.Errorf("public key list: %w", err))
	}

	return endpoints, publicKeys, string(tokenBytes), nil
}

func marshalList(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}
