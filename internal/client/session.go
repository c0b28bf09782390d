package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
)

// EventConn is a Signaler that also delivers server events. The then hook of
// RequestThen must run before events that arrive after the response.
type EventConn interface {
	Signaler
	OnEvent(func(protocol.Envelope))
	RequestThen(ctx context.Context, t protocol.Type, data any, then func(json.RawMessage)) (json.RawMessage, error)
}

// Session is one participant's presence in at most one room at a time.
type Session struct {
	conn EventConn
	dev  Device
	opts ReconcilerOptions

	mu     sync.Mutex
	rec    *Reconciler
	cancel context.CancelFunc
	joined *protocol.JoinRoomResponse
	send   SendTransport
}

func NewSession(conn EventConn, dev Device, opts ReconcilerOptions) *Session {
	s := &Session{conn: conn, dev: dev, opts: opts}
	conn.OnEvent(s.onEvent)
	return s
}

func (s *Session) onEvent(env protocol.Envelope) {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec != nil {
		rec.Push(env)
	}
}

// Join enters a room, queues the producers already there and prepares the
// receive side. Joining while in a room leaves it first.
func (s *Session) Join(ctx context.Context, req protocol.JoinRoomRequest) (protocol.JoinRoomResponse, error) {
	s.reset()

	// the reconciler exists before the request goes out, so no event sent
	// right after the join response is lost
	rec := NewReconciler(s.conn, s.dev, s.opts)
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.rec, s.cancel = rec, cancel
	s.mu.Unlock()
	go func() { _ = rec.Run(runCtx) }()

	// the snapshot is queued before any stream-available that follows the
	// response on the wire
	raw, err := s.conn.RequestThen(ctx, protocol.TypeJoinRoom, req, func(raw json.RawMessage) {
		var snap protocol.JoinRoomResponse
		if err := json.Unmarshal(raw, &snap); err == nil {
			rec.Seed(snap.ExistingProducers)
		}
	})
	if err != nil {
		s.reset()
		return protocol.JoinRoomResponse{}, fmt.Errorf("join %s: %w", req.ConferenceID, err)
	}
	var resp protocol.JoinRoomResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.reset()
		return protocol.JoinRoomResponse{}, fmt.Errorf("decode join response: %w", err)
	}
	s.mu.Lock()
	s.joined = &resp
	s.mu.Unlock()

	if err := rec.Prepare(ctx, resp.Capabilities); err != nil {
		return resp, err
	}
	log.Info().Str("module", "client").Str("room", string(req.ConferenceID)).
		Str("participant", string(resp.ParticipantID)).Int("existing", len(resp.ExistingProducers)).Msg("joined")
	return resp, nil
}

// Publish sends one local stream of kind and returns its producer id.
func (s *Session) Publish(ctx context.Context, kind domain.MediaKind) (string, error) {
	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if joined == nil {
		return "", fmt.Errorf("%w: not in a room", core.ErrProtocol)
	}
	if !joined.SendAllowed {
		return "", fmt.Errorf("%w: role may not send", core.ErrForbidden)
	}

	send, err := s.sendTransport(ctx)
	if err != nil {
		return "", err
	}
	raw, err := s.conn.Request(ctx, protocol.TypeProduce, protocol.ProduceRequest{
		TransportID: send.ID(),
		Kind:        kind,
		Params:      send.MediaParams(kind),
	})
	if err != nil {
		return "", fmt.Errorf("produce %s: %w", kind, err)
	}
	var resp protocol.ProduceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode produce response: %w", err)
	}
	return resp.ProducerID, nil
}

func (s *Session) sendTransport(ctx context.Context) (SendTransport, error) {
	s.mu.Lock()
	send := s.send
	s.mu.Unlock()
	if send != nil {
		return send, nil
	}

	raw, err := s.conn.Request(ctx, protocol.TypeCreateTransport, protocol.CreateTransportRequest{Direction: domain.DirectionSend})
	if err != nil {
		return nil, fmt.Errorf("create send transport: %w", err)
	}
	var desc protocol.TransportDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("decode transport: %w", err)
	}
	send, err = s.dev.CreateSendTransport(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("local send transport: %w", err)
	}
	params, err := send.ConnectParams(ctx)
	if err == nil {
		_, err = s.conn.Request(ctx, protocol.TypeConnectTransport, protocol.ConnectTransportRequest{TransportID: desc.ID, Params: params})
	}
	if err != nil {
		send.Close()
		return nil, fmt.Errorf("connect send transport: %w", err)
	}

	s.mu.Lock()
	s.send = send
	s.mu.Unlock()
	return send, nil
}

// Unpublish stops a stream published with Publish.
func (s *Session) Unpublish(ctx context.Context, producerID string) error {
	_, err := s.conn.Request(ctx, protocol.TypeCloseProducer, protocol.CloseProducerRequest{ProducerID: producerID})
	return err
}

// Leave tells the service and tears down local state either way.
func (s *Session) Leave(ctx context.Context) error {
	_, err := s.conn.Request(ctx, protocol.TypeLeaveRoom, nil)
	s.reset()
	return err
}

// Reconciler returns the reconciler of the current room, or nil.
func (s *Session) Reconciler() *Reconciler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *Session) reset() {
	s.mu.Lock()
	rec, cancel, send := s.rec, s.cancel, s.send
	s.rec, s.cancel, s.send, s.joined = nil, nil, nil, nil
	s.mu.Unlock()

	if rec != nil {
		rec.Close()
	}
	if cancel != nil {
		cancel()
	}
	if send != nil {
		send.Close()
	}
}
