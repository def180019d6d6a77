package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Packet pairs a type with its payload.
//
// Wire layout (little endian, version 1):
//
//	[u32 length][u32 type][u8 version][u16 count]
//	  count x { [u8 key length][key][u32 value length][value] }
//
// length counts every byte that follows it. Properties are written in
// sorted key order so encoding is deterministic.
type Packet struct {
	Type    PacketType
	Payload Payload
}

// NewPacket wraps a payload in a packet of the payload's type
func NewPacket(payload Payload) Packet {
	return Packet{Type: payload.Type(), Payload: payload}
}

// Validate checks type/payload consistency and payload contents
func (p Packet) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownPacketType, uint32(p.Type))
	}
	if p.Payload == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidPacket)
	}
	if p.Payload.Type() != p.Type {
		return fmt.Errorf("%w: packet type %s carries %s payload", ErrInvalidPacket, p.Type, p.Payload.Type())
	}
	return p.Payload.Validate()
}

// Size returns the encoded size in bytes, length prefix included
func (p Packet) Size() int {
	size := LengthPrefixSize + packetHeaderSize
	if p.Payload == nil {
		return size
	}
	for k, v := range p.Payload.Properties() {
		size += 1 + len(k) + 4 + len(v)
	}
	return size
}

// Encode validates and encodes the packet
func (p Packet) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	props := p.Payload.Properties()
	if len(props) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: too many properties", ErrInvalidPacket)
	}

	size := p.Size()
	if uint64(size-LengthPrefixSize) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: packet too large", ErrInvalidPacket)
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size-LengthPrefixSize))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Type))
	buf = append(buf, WireVersion)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(props)))

	for _, key := range sortedKeys(props) {
		if len(key) == 0 || len(key) > math.MaxUint8 {
			return nil, fmt.Errorf("%w: property key length %d", ErrInvalidPacket, len(key))
		}
		value := props[key]

		buf = append(buf, uint8(len(key)))
		buf = append(buf, key...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
		buf = append(buf, value...)
	}

	return buf, nil
}

// PeekPacketType reads the type field of an encoded packet without decoding it
func PeekPacketType(buf []byte) (PacketType, error) {
	if len(buf) < LengthPrefixSize+4 {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidPacket, len(buf))
	}
	t := PacketType(binary.LittleEndian.Uint32(buf[LengthPrefixSize:]))
	if !t.Valid() {
		return t, fmt.Errorf("%w: %d", ErrUnknownPacketType, uint32(t))
	}
	return t, nil
}

// DecodePacket decodes exactly one encoded packet
func DecodePacket(buf []byte) (Packet, error) {
	if len(buf) < LengthPrefixSize+packetHeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes is shorter than a header", ErrInvalidPacket, len(buf))
	}

	length := binary.LittleEndian.Uint32(buf)
	if uint64(length) != uint64(len(buf)-LengthPrefixSize) {
		return Packet{}, fmt.Errorf("%w: declared length %d, have %d", ErrInvalidPacket, length, len(buf)-LengthPrefixSize)
	}

	offset := LengthPrefixSize
	packetType := PacketType(binary.LittleEndian.Uint32(buf[offset:]))
	offset += 4

	if !packetType.Valid() {
		return Packet{}, fmt.Errorf("%w: %d", ErrUnknownPacketType, uint32(packetType))
	}

	if version := buf[offset]; version != WireVersion {
		return Packet{}, fmt.Errorf("%w: %d", ErrUnsupportedWireVersion, version)
	}
	offset++

	count := int(binary.LittleEndian.Uint16(buf[offset:]))
	offset += 2

	props := make(map[string]string, count)
	for i := 0; i < count; i++ {
		if offset >= len(buf) {
			return Packet{}, fmt.Errorf("%w: property %d truncated", ErrInvalidPacket, i)
		}
		keyLen := int(buf[offset])
		offset++

		if keyLen == 0 || len(buf)-offset < keyLen+4 {
			return Packet{}, fmt.Errorf("%w: property %d truncated", ErrInvalidPacket, i)
		}
		key := string(buf[offset : offset+keyLen])
		offset += keyLen

		valueLen := binary.LittleEndian.Uint32(buf[offset:])
		offset += 4
		if uint64(len(buf)-offset) < uint64(valueLen) {
			return Packet{}, fmt.Errorf("%w: value of %q truncated", ErrInvalidPacket, key)
		}
		value := string(buf[offset : offset+int(valueLen)])
		offset += int(valueLen)

		if _, dup := props[key]; dup {
			return Packet{}, fmt.Errorf("%w: duplicate property %q", ErrInvalidPacket, key)
		}
		props[key] = value
	}

	if offset != len(buf) {
		return Packet{}, fmt.Errorf("%w: %d trailing bytes", ErrInvalidPacket, len(buf)-offset)
	}

	payload, err := NewPayload(packetType, props)
	if err != nil {
		return Packet{}, err
	}

	return Packet{Type: packetType, Payload: payload}, nil
}

// Equal reports whether two packets have the same type and content-equal payloads
func (p Packet) Equal(other Packet) bool {
	return p.Type == other.Type && PayloadsEqual(p.Payload, other.Payload)
}

func (p Packet) String() string {
	return fmt.Sprintf("%s(%d bytes)", p.Type, p.Size())
}
