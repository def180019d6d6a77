package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Payload is the typed content of a packet. Implementations are immutable:
// Properties returns a copy.
type Payload interface {
	Type() PacketType
	Properties() map[string]string
	Validate() error
}

// requiredProperties lists the keys each variant must carry, and nothing else
var requiredProperties = map[PacketType][]string{
	PacketPing:      nil,
	PacketKey:       {PropContent, PropKey},
	PacketMessage:   {PropContent, PropToken},
	PacketDiscovery: {PropEndpoints, PropPublicKeys, PropToken},
	PacketSignature: {PropKey, PropPublicKeys, PropToken, PropSignature},
	PacketBroadcast: {PropContent},
}

// ValidateProperties checks props against the required key set of t
func ValidateProperties(t PacketType, props map[string]string) error {
	required, ok := requiredProperties[t]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPacketType, uint32(t))
	}

	if t == PacketPing {
		if len(props) != 0 {
			return fmt.Errorf("%w: PING must carry no properties, got %d", ErrInvalidPayload, len(props))
		}
		return nil
	}

	for _, key := range required {
		if strings.TrimSpace(props[key]) == "" {
			return fmt.Errorf("%w: %s missing property %q", ErrInvalidPayload, t, key)
		}
	}

	if len(props) != len(required) {
		for key := range props {
			if !contains(required, key) {
				return fmt.Errorf("%w: %s has unexpected property %q", ErrInvalidPayload, t, key)
			}
		}
	}

	return nil
}

// NewPayload builds the variant for t from a property map, validating it
func NewPayload(t PacketType, props map[string]string) (Payload, error) {
	if err := ValidateProperties(t, props); err != nil {
		return nil, err
	}

	base := basePayload{props: copyProperties(props)}

	switch t {
	case PacketPing:
		return PingPayload{}, nil
	case PacketKey:
		return KeyPayload{base}, nil
	case PacketMessage:
		return MessagePayload{base}, nil
	case PacketDiscovery:
		return DiscoveryPayload{base}, nil
	case PacketSignature:
		return SignaturePayload{base}, nil
	case PacketBroadcast:
		return BroadcastPayload{base}, nil
	}

	return nil, fmt.Errorf("%w: %d", ErrUnknownPacketType, uint32(t))
}

// PayloadsEqual reports whether two payloads have the same type and content
func PayloadsEqual(a, b Payload) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() {
		return false
	}

	pa, pb := a.Properties(), b.Properties()
	if len(pa) != len(pb) {
		return false
	}
	for k, v := range pa {
		if w, ok := pb[k]; !ok || w != v {
			return false
		}
	}
	return true
}

type basePayload struct {
	props map[string]string
}

func (b basePayload) Properties() map[string]string {
	return copyProperties(b.props)
}

func (b basePayload) get(key string) string {
	return b.props[key]
}

// sortedKeys returns property keys in encoding order
func sortedKeys(props map[string]string) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyProperties(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ===== PING =====

// PingPayload carries nothing; it signals liveness only
type PingPayload struct{}

func (PingPayload) Type() PacketType              { return PacketPing }
func (PingPayload) Properties() map[string]string { return map[string]string{} }
func (PingPayload) Validate() error               { return nil }

// ===== KEY =====

// KeyPayload carries RSA-wrapped symmetric keys for the packet it precedes
type KeyPayload struct{ basePayload }

// NewKeyPayload creates a KEY payload
func NewKeyPayload(contentKey, tokenKey string) (KeyPayload, error) {
	p, err := NewPayload(PacketKey, map[string]string{PropContent: contentKey, PropKey: tokenKey})
	if err != nil {
		return KeyPayload{}, err
	}
	return p.(KeyPayload), nil
}

func (KeyPayload) Type() PacketType { return PacketKey }
func (p KeyPayload) Validate() error {
	return ValidateProperties(PacketKey, p.props)
}

// ContentKey returns the wrapped key of the content (message or list keys)
func (p KeyPayload) ContentKey() string { return p.get(PropContent) }

// TokenKey returns the wrapped key of the token ciphertext
func (p KeyPayload) TokenKey() string { return p.get(PropKey) }

// ===== MESSAGE =====

// MessagePayload carries an encrypted text message and the sender's encrypted token
type MessagePayload struct{ basePayload }

// NewMessagePayload creates a MESSAGE payload
func NewMessagePayload(content, token string) (MessagePayload, error) {
	p, err := NewPayload(PacketMessage, map[string]string{PropContent: content, PropToken: token})
	if err != nil {
		return MessagePayload{}, err
	}
	return p.(MessagePayload), nil
}

func (MessagePayload) Type() PacketType { return PacketMessage }
func (p MessagePayload) Validate() error {
	return ValidateProperties(PacketMessage, p.props)
}

func (p MessagePayload) Content() string { return p.get(PropContent) }
func (p MessagePayload) Token() string   { return p.get(PropToken) }

// ===== DISCOVERY =====

// DiscoveryPayload carries encrypted endpoint and public key lists
type DiscoveryPayload struct{ basePayload }

// NewDiscoveryPayload creates a DISCOVERY payload
func NewDiscoveryPayload(endpoints, publicKeys, token string) (DiscoveryPayload, error) {
	p, err := NewPayload(PacketDiscovery, map[string]string{
		PropEndpoints:  endpoints,
		PropPublicKeys: publicKeys,
		PropToken:      token,
	})
	if err != nil {
		return DiscoveryPayload{}, err
	}
	return p.(DiscoveryPayload), nil
}

func (DiscoveryPayload) Type() PacketType { return PacketDiscovery }
func (p DiscoveryPayload) Validate() error {
	return ValidateProperties(PacketDiscovery, p.props)
}

func (p DiscoveryPayload) Endpoints() string  { return p.get(PropEndpoints) }
func (p DiscoveryPayload) PublicKeys() string { return p.get(PropPublicKeys) }
func (p DiscoveryPayload) Token() string      { return p.get(PropToken) }

// ===== SIGNATURE =====

// SignaturePayload delivers a freshly minted trust token together with the
// sender's public key and a signature proving possession of its private key.
type SignaturePayload struct{ basePayload }

// NewSignaturePayload creates a SIGNATURE payload
func NewSignaturePayload(key, publicKey, token, signature string) (SignaturePayload, error) {
	p, err := NewPayload(PacketSignature, map[string]string{
		PropKey:        key,
		PropPublicKeys: publicKey,
		PropToken:      token,
		PropSignature:  signature,
	})
	if err != nil {
		return SignaturePayload{}, err
	}
	return p.(SignaturePayload), nil
}

func (SignaturePayload) Type() PacketType { return PacketSignature }
func (p SignaturePayload) Validate() error {
	return ValidateProperties(PacketSignature, p.props)
}

// Key returns the RSA-wrapped key of the public key ciphertext
func (p SignaturePayload) Key() string { return p.get(PropKey) }

// PublicKey returns the symmetric ciphertext of the sender's public key
func (p SignaturePayload) PublicKey() string { return p.get(PropPublicKeys) }

// Token returns the RSA-wrapped token
func (p SignaturePayload) Token() string { return p.get(PropToken) }

// Signature returns the sender's signature over Hash512(token)
func (p SignaturePayload) Signature() string { return p.get(PropSignature) }

// ===== BROADCAST =====

// BroadcastPayload is reserved for network-wide announcements
type BroadcastPayload struct{ basePayload }

// NewBroadcastPayload creates a BROADCAST payload
func NewBroadcastPayload(content string) (BroadcastPayload, error) {
	p, err := NewPayload(PacketBroadcast, map[string]string{PropContent: content})
	if err != nil {
		return BroadcastPayload{}, err
	}
	return p.(BroadcastPayload), nil
}

func (BroadcastPayload) Type() PacketType { return PacketBroadcast }
func (p BroadcastPayload) Validate() error {
	return ValidateProperties(PacketBroadcast, p.props)
}

func (p BroadcastPayload) Content() string { return p.get(PropContent) }
