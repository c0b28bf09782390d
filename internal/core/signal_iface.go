package core

// Frame is a raw encoded signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues the frame without blocking. Frames queued on one connection
	// are written in order.
	TrySend(Frame) error
	Close()
}
