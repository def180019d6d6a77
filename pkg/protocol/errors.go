package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPacket          = errors.New("invalid packet")
	ErrInvalidPayload         = errors.New("invalid payload")
	ErrUnknownPacketType      = errors.New("unknown packet type")
	ErrUnsupportedWireVersion = errors.New("unsupported wire version")
	ErrFrameCorrupted         = errors.New("frame corrupted")
	ErrFrameTooLarge          = errors.New("frame exceeds maximum size")

	// ErrPacketRejected matches every *RejectedError via errors.Is
	ErrPacketRejected = errors.New("packet rejected")
)

// RejectionReason classifies why a packet failed decryption or authentication
type RejectionReason int

const (
	RejectUndefined RejectionReason = iota
	RejectInvalidPrivateKey
	RejectInvalidSignature
	RejectInvalidSymmetricKey
	RejectInvalidIdentityProve
)

func (r RejectionReason) String() string {
	switch r {
	case RejectInvalidPrivateKey:
		return "InvalidPrivateKey"
	case RejectInvalidSignature:
		return "InvalidSignature"
	case RejectInvalidSymmetricKey:
		return "InvalidSymmetricKey"
	case RejectInvalidIdentityProve:
		return "InvalidIdentityProve"
	default:
		return "Undefined"
	}
}

// RejectedError is returned when a packet cannot be decrypted or its sender
// cannot be authenticated.
type RejectedError struct {
	Reason RejectionReason
	Err    error
}

// Reject builds a *RejectedError
func Reject(reason RejectionReason, err error) error {
	return &RejectedError{Reason: reason, Err: err}
}

func (e *RejectedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("packet rejected: %s", e.Reason)
	}
	return fmt.Sprintf("packet rejected: %s: %v", e.Reason, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrPacketRejected
}

// RejectionReasonOf extracts the rejection reason from err
func RejectionReasonOf(err error) (RejectionReason, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, true
	}
	return RejectUndefined, false
}
