// Package protocol implements the ZenTalk peer wire format.
//
// # Packets
//
// A packet pairs a PacketType with a typed Payload. Payloads are flat maps of
// one-character property keys to string values, typically base64 ciphertext:
//
//	PING       (no properties)
//	KEY        c: wrapped content key(s), k: wrapped token key
//	MESSAGE    c: message ciphertext,     s: token ciphertext
//	DISCOVERY  e: endpoint list,          p: public key list, s: token ciphertext
//	SIGNATURE  k: wrapped key, p: sender public key, s: wrapped token, g: signature
//	BROADCAST  c: content (reserved)
//
// Encoding (little endian, wire version 1):
//
//	[u32 length][u32 type][u8 version][u16 count]
//	  count x { [u8 key length][key][u32 value length][value] }
//
// Every value is length-prefixed and keys are written in sorted order, so
// encoding is deterministic and DecodePacket(Encode(p)) equals p.
//
// # Frames
//
// A frame bundles one or more encoded packets behind a single total length so
// a KEY packet and its content packet always travel in one write:
//
//	[u32 total][packet 1]...[packet n]
//
// ReadFrame consumes exactly one frame from a stream regardless of how the
// transport chunks the bytes, and SplitFrame checks that the embedded packet
// lengths add up to the declared total.
//
// # Rejections
//
// Decryption and authentication failures are reported as *RejectedError
// carrying a RejectionReason. They match ErrPacketRejected via errors.Is.
package protocol
