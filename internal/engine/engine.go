// Package engine is the boundary to the media-routing engine. The signaling core
// drives it through routers, transports, producers and consumers and never looks
// at packets.
package engine

//go:generate mockgen -destination=mock/engine_mock.go -package=mock github.com/dkeye/huddle/internal/engine Engine,Router

import (
	"context"
	"encoding/json"

	"github.com/dkeye/huddle/internal/domain"
)

// Engine creates one Router per room. Done is closed when the engine itself
// becomes unusable; Err then reports why.
type Engine interface {
	CreateRouter(ctx context.Context, conferenceID domain.ConferenceID) (Router, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Router is one media-routing context. It is also the capability negotiator for
// its room.
type Router interface {
	ID() string
	Capabilities() domain.Capabilities
	// CanConsume reports whether a consumer with caps can receive producerID.
	CanConsume(producerID string, caps domain.Capabilities) bool
	CreateTransport(ctx context.Context, dir domain.Direction) (Transport, error)
	Close()
}

type Transport interface {
	ID() string
	Direction() domain.Direction
	// Params are the local handshake parameters handed to the client.
	Params() json.RawMessage
	// Connect applies the remote handshake parameters. The returned data is
	// engine specific and may be nil.
	Connect(ctx context.Context, remote json.RawMessage) (json.RawMessage, error)
	Produce(ctx context.Context, kind domain.MediaKind, params domain.MediaParams) (Producer, error)
	// Consume creates a paused consumer of producerID on this transport.
	Consume(ctx context.Context, producerID string, caps domain.Capabilities) (Consumer, error)
	// OnStateChange registers the connection state callback. It may be invoked
	// from any goroutine, including while another transport method is running.
	OnStateChange(func(domain.TransportState))
	Close()
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	Codec() domain.Codec
	Close()
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	Params() json.RawMessage
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	Close()
}
