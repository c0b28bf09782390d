package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: the referenced transport, producer, consumer or peer is gone,
	// usually a race with cleanup.
	ErrNotFound = errors.New("not found")
	// ErrCapabilityMismatch: the consumer cannot receive the producer. Expected for
	// stale producers and never a server fault.
	ErrCapabilityMismatch = errors.New("capability mismatch")
	// ErrProtocol: malformed or out-of-order request.
	ErrProtocol = errors.New("protocol error")
	// ErrForbidden is a protocol error caused by the peer's role.
	ErrForbidden = fmt.Errorf("%w: forbidden", ErrProtocol)
	// ErrFatal: the media-routing engine is unusable. Not recoverable in-process.
	ErrFatal = errors.New("fatal infrastructure error")
	// ErrBackpressure is returned by TrySend when the connection buffer is full.
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)
