package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/engine"
	"github.com/dkeye/huddle/internal/protocol"
)

// Device is the local media stack: codec negotiation plus the local ends of
// the transports the service creates.
type Device interface {
	// Load negotiates against the room's capabilities and returns what this
	// device can receive.
	Load(ctx context.Context, router domain.Capabilities) (domain.Capabilities, error)
	CreateSendTransport(ctx context.Context, desc protocol.TransportDescriptor) (SendTransport, error)
	CreateRecvTransport(ctx context.Context, desc protocol.TransportDescriptor) (RecvTransport, error)
}

type LocalTransport interface {
	ID() string
	// ConnectParams are sent with connect-transport.
	ConnectParams(ctx context.Context) (json.RawMessage, error)
	Close()
}

type SendTransport interface {
	LocalTransport
	MediaParams(kind domain.MediaKind) domain.MediaParams
}

type RecvTransport interface {
	LocalTransport
	// Attach wires a consumer into the playback pipeline and returns its track.
	Attach(ctx context.Context, c protocol.ConsumerDescriptor) (Track, error)
}

// Track is an attached remote track. Live is closed once media is flowing;
// until then the track is attached but not ready to render.
type Track interface {
	ID() string
	Kind() domain.MediaKind
	Live() <-chan struct{}
	Stop()
}

// HeadlessDevice negotiates and attaches without rendering anything. Tracks go
// live after LiveAfter; a negative LiveAfter keeps them muted forever.
type HeadlessDevice struct {
	Codecs    []domain.Codec
	LiveAfter time.Duration
}

func NewHeadlessDevice() *HeadlessDevice {
	return &HeadlessDevice{Codecs: engine.DefaultCapabilities().Codecs}
}

func (d *HeadlessDevice) Load(ctx context.Context, router domain.Capabilities) (domain.Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return domain.Capabilities{}, err
	}
	own := domain.Capabilities{Codecs: d.Codecs}
	var out domain.Capabilities
	for _, c := range router.Codecs {
		if engine.MatchCodec(c, own) {
			out.Codecs = append(out.Codecs, c)
		}
	}
	if out.Empty() {
		return out, fmt.Errorf("no codec in common with the room")
	}
	return out, nil
}

func (d *HeadlessDevice) CreateSendTransport(_ context.Context, desc protocol.TransportDescriptor) (SendTransport, error) {
	return &headlessTransport{id: desc.ID, codecs: d.Codecs}, nil
}

func (d *HeadlessDevice) CreateRecvTransport(_ context.Context, desc protocol.TransportDescriptor) (RecvTransport, error) {
	return &headlessTransport{id: desc.ID, codecs: d.Codecs, liveAfter: d.LiveAfter}, nil
}

type headlessTransport struct {
	id        string
	codecs    []domain.Codec
	liveAfter time.Duration

	mu     sync.Mutex
	tracks []*headlessTrack
	closed bool
}

func (t *headlessTransport) ID() string { return t.id }

func (t *headlessTransport) ConnectParams(context.Context) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"transportId": t.id, "role": "client"})
}

func (t *headlessTransport) MediaParams(kind domain.MediaKind) domain.MediaParams {
	var codecs []domain.Codec
	for _, c := range t.codecs {
		if c.Kind == kind {
			codecs = append(codecs, c)
		}
	}
	return domain.MediaParams{TrackID: uuid.NewString(), Codecs: codecs}
}

func (t *headlessTransport) Attach(_ context.Context, c protocol.ConsumerDescriptor) (Track, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport %s: %w", t.id, ErrClosed)
	}
	tr := newHeadlessTrack(c.ID, c.Kind, t.liveAfter)
	t.tracks = append(t.tracks, tr)
	return tr, nil
}

func (t *headlessTransport) Close() {
	t.mu.Lock()
	tracks := t.tracks
	t.tracks, t.closed = nil, true
	t.mu.Unlock()
	for _, tr := range tracks {
		tr.Stop()
	}
}

type headlessTrack struct {
	id   string
	kind domain.MediaKind
	live chan struct{}

	once    sync.Once
	stopped chan struct{}
}

func newHeadlessTrack(id string, kind domain.MediaKind, liveAfter time.Duration) *headlessTrack {
	t := &headlessTrack{id: id, kind: kind, live: make(chan struct{}), stopped: make(chan struct{})}
	switch {
	case liveAfter == 0:
		close(t.live)
	case liveAfter > 0:
		go func() {
			select {
			case <-time.After(liveAfter):
				close(t.live)
			case <-t.stopped:
			}
		}()
	}
	return t
}

func (t *headlessTrack) ID() string             { return t.id }
func (t *headlessTrack) Kind() domain.MediaKind { return t.kind }
func (t *headlessTrack) Live() <-chan struct{}  { return t.live }
func (t *headlessTrack) Stop()                  { t.once.Do(func() { close(t.stopped) }) }

// Stopped reports whether Stop was called.
func (t *headlessTrack) Stopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}
