package network

import "errors"

var (
	// ErrInvalidOperation is returned for illegal server state transitions
	ErrInvalidOperation = errors.New("invalid operation")

	ErrConnectionFailed = errors.New("connection failed")
	ErrConnectionClosed = errors.New("connection closed")
	ErrUnexpectedFrame  = errors.New("unexpected frame shape")
	ErrPoolClosed       = errors.New("connection pool closed")

	// ErrClientClosed is returned by sends on a client after Close
	ErrClientClosed = errors.New("client closed")
)
