package network

import (
	"fmt"
	"strings"

	"github.com/ZentaChain/zentalk-peer/pkg/protocol"
)

// dispatchFunc handles one frame whose shape matched its table entry
type dispatchFunc func(c *Connection, buffers [][]byte)

// dispatchTable maps a frame shape ("KEY+MESSAGE") to its handler
type dispatchTable map[string]dispatchFunc

func newDispatchTable(h Handler) dispatchTable {
	return dispatchTable{
		frameShape(protocol.PacketPing): func(c *Connection, _ [][]byte) {
			h.OnPingReceived(c.RemoteIP())
		},
		frameShape(protocol.PacketSignature): func(_ *Connection, b [][]byte) {
			h.OnSignatureReceived(b[0])
		},
		frameShape(protocol.PacketKey, protocol.PacketMessage): func(_ *Connection, b [][]byte) {
			h.OnMessageReceived(b[0], b[1])
		},
		frameShape(protocol.PacketKey, protocol.PacketDiscovery): func(_ *Connection, b [][]byte) {
			h.OnDiscoveryReceived(b[0], b[1])
		},
	}
}

// lookup finds the entry for a frame's packet types
func (t dispatchTable) lookup(buffers [][]byte) (string, dispatchFunc, error) {
	types := make([]protocol.PacketType, 0, len(buffers))
	for _, buf := range buffers {
		pt, err := protocol.PeekPacketType(buf)
		if err != nil {
			return "", nil, err
		}
		types = append(types, pt)
	}

	shape := frameShape(types...)
	fn, ok := t[shape]
	if !ok {
		return shape, nil, fmt.Errorf("%w: %s", ErrUnexpectedFrame, shape)
	}
	return shape, fn, nil
}

func frameShape(types ...protocol.PacketType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, "+")
}
