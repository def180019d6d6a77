package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds the declared length of an incoming frame
const DefaultMaxFrameSize uint32 = 4 << 20

// BuildFrame encodes packets and bundles them behind one total-length prefix:
//
//	[u32 total][packet 1]...[packet n]
func BuildFrame(packets ...Packet) ([]byte, error) {
	if len(packets) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidPacket)
	}

	buffers := make([][]byte, 0, len(packets))
	for _, packet := range packets {
		buf, err := packet.Encode()
		if err != nil {
			return nil, err
		}
		buffers = append(buffers, buf)
	}

	return BundleBuffers(buffers...), nil
}

// BundleBuffers frames already-encoded packet buffers
func BundleBuffers(buffers ...[]byte) []byte {
	total := 0
	for _, buf := range buffers {
		total += len(buf)
	}

	frame := make([]byte, 0, LengthPrefixSize+total)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(total))
	for _, buf := range buffers {
		frame = append(frame, buf...)
	}
	return frame
}

// ReadFrame reads one frame from r and returns its packet buffers.
// Partial reads are retried until the declared length is consumed.
// A clean EOF before any prefix byte returns io.EOF.
func ReadFrame(r io.Reader, maxSize uint32) ([][]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	prefix := make([]byte, LengthPrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated length prefix: %w", ErrFrameCorrupted, err)
		}
		return nil, err
	}

	total := binary.LittleEndian.Uint32(prefix)
	if total == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrFrameCorrupted)
	}
	if total > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, total, maxSize)
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: declared %d bytes: %w", ErrFrameCorrupted, total, io.ErrUnexpectedEOF)
		}
		return nil, err
	}

	return SplitFrame(body)
}

// SplitFrame walks a frame body packet by packet using each packet's own
// length prefix. The consumed lengths must add up to len(body) exactly.
func SplitFrame(body []byte) ([][]byte, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrFrameCorrupted)
	}

	var packets [][]byte
	consumed := 0

	for consumed < len(body) {
		if len(body)-consumed < LengthPrefixSize {
			return nil, fmt.Errorf("%w: %d stray bytes after packet %d", ErrFrameCorrupted, len(body)-consumed, len(packets))
		}

		length := binary.LittleEndian.Uint32(body[consumed:])
		end := uint64(consumed) + LengthPrefixSize + uint64(length)
		if end > uint64(len(body)) {
			return nil, fmt.Errorf("%w: packet %d overruns frame", ErrFrameCorrupted, len(packets))
		}

		packets = append(packets, body[consumed:int(end)])
		consumed = int(end)
	}

	if consumed != len(body) {
		return nil, fmt.Errorf("%w: consumed %d of %d bytes", ErrFrameCorrupted, consumed, len(body))
	}

	return packets, nil
}

// DecodeFrame decodes every packet buffer of a split frame
func DecodeFrame(buffers [][]byte) ([]Packet, error) {
	packets := make([]Packet, 0, len(buffers))
	for i, buf := range buffers {
		packet, err := DecodePacket(buf)
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
		packets = append(packets, packet)
	}
	return packets, nil
}
