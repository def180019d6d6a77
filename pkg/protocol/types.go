package protocol

import "fmt"

// Protocol constants
const (
	// WireVersion is the packet encoding version written after the type field
	WireVersion uint8 = 1

	// DefaultPort is the fixed TCP port peers listen on
	DefaultPort = 8391

	// LengthPrefixSize is the size of every u32 length prefix (packets and frames)
	LengthPrefixSize = 4

	// packetHeaderSize covers type (4) + wire version (1) + property count (2)
	packetHeaderSize = 4 + 1 + 2
)

// PacketType identifies the payload variant carried by a packet.
// Codes are stable and never reused.
type PacketType uint32

const (
	PacketPing      PacketType = 0
	PacketDiscovery PacketType = 1
	PacketKey       PacketType = 2
	PacketMessage   PacketType = 3
	PacketSignature PacketType = 4

	// PacketBroadcast is reserved; it encodes and decodes but nothing sends it yet
	PacketBroadcast PacketType = 5
)

// Property keys
const (
	PropContent    = "c" // ciphertext or wrapped content key
	PropKey        = "k" // wrapped symmetric key
	PropToken      = "s" // token ciphertext
	PropPublicKeys = "p" // public key list / sender public key
	PropEndpoints  = "e" // endpoint list
	PropSignature  = "g" // rsa signature
)

// Valid reports whether t is a known packet type
func (t PacketType) Valid() bool {
	return t <= PacketBroadcast
}

func (t PacketType) String() string {
	switch t {
	case PacketPing:
		return "PING"
	case PacketDiscovery:
		return "DISCOVERY"
	case PacketKey:
		return "KEY"
	case PacketMessage:
		return "MESSAGE"
	case PacketSignature:
		return "SIGNATURE"
	case PacketBroadcast:
		return "BROADCAST"
	default:
		return fmt.Sprintf("PacketType(%d)", uint32(t))
	}
}
