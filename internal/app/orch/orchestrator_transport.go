package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
)

func (o *Orchestrator) CreateTransport(ctx context.Context, sid core.SessionID, dir domain.Direction) (protocol.TransportDescriptor, error) {
	var desc protocol.TransportDescriptor
	room, peer, err := o.peerRoom(sid)
	if err != nil {
		return desc, err
	}
	defer room.Unlock()

	if dir == domain.DirectionSend && !peer.Role().CanSend() {
		return desc, fmt.Errorf("%w: role %s cannot send", core.ErrForbidden, peer.Role())
	}
	et, err := room.Router().CreateTransport(ctx, dir)
	if err != nil {
		return desc, o.checkFatal(fmt.Errorf("create %s transport: %w", dir, err))
	}
	t := app.NewTransport(et)
	peer.AddTransport(t)

	conf, id := room.ID(), t.ID
	et.OnStateChange(func(s domain.TransportState) {
		go o.onTransportState(conf, peer, id, s)
	})

	log.Debug().Str("module", "orch").Str("room", string(conf)).Str("participant", string(peer.ID())).Str("transport", id).Str("direction", string(dir)).Msg("transport created")
	return protocol.TransportDescriptor{ID: t.ID, Direction: t.Direction, Params: et.Params()}, nil
}

// ConnectTransport applies the remote handshake. Repeating it with identical
// params returns the first result without touching the engine.
func (o *Orchestrator) ConnectTransport(ctx context.Context, sid core.SessionID, transportID string, params json.RawMessage) (json.RawMessage, error) {
	room, peer, err := o.peerRoom(sid)
	if err != nil {
		return nil, err
	}
	defer room.Unlock()

	t, ok := peer.Transport(transportID)
	if !ok {
		return nil, fmt.Errorf("transport %s: %w", transportID, core.ErrNotFound)
	}
	switch t.State() {
	case domain.TransportConnecting, domain.TransportConnected, domain.TransportDisconnected:
		if t.SameConnect(params) {
			return t.ConnectResult(), nil
		}
		return nil, fmt.Errorf("%w: transport %s already connected with different parameters", core.ErrProtocol, transportID)
	case domain.TransportNew:
	default:
		return nil, fmt.Errorf("transport %s is %s: %w", transportID, t.State(), core.ErrNotFound)
	}

	if err := t.Transition(domain.TransportConnecting); err != nil {
		return nil, err
	}
	res, err := t.Engine.Connect(ctx, params)
	if err != nil {
		_ = t.Transition(domain.TransportNew)
		return nil, o.checkFatal(fmt.Errorf("connect transport %s: %w", transportID, err))
	}
	t.Connected(params, res)
	return res, nil
}

// onTransportState applies an engine connection-state notification. It runs
// on its own goroutine and ignores peers that are gone.
func (o *Orchestrator) onTransportState(conf domain.ConferenceID, peer *app.Peer, transportID string, s domain.TransportState) {
	room, ok := o.Rooms.Lookup(conf)
	if !ok {
		return
	}
	defer room.Unlock()
	if !room.Current(peer) || peer.Closed() {
		return
	}
	t, ok := peer.Transport(transportID)
	if !ok {
		return
	}
	l := log.With().Str("module", "orch").Str("room", string(conf)).Str("participant", string(peer.ID())).Str("transport", transportID).Logger()

	switch s {
	case domain.TransportClosed, domain.TransportFailed:
		l.Info().Str("state", string(s)).Msg("transport ended")
		o.closeTransport(room, peer, t, s)
	default:
		if err := t.Transition(s); err != nil {
			l.Debug().Err(err).Msg("ignored transport state")
		}
	}
}

// closeTransport removes a transport and whatever media was bound to it.
// Caller holds the room lock.
func (o *Orchestrator) closeTransport(room *app.Room, peer *app.Peer, t *app.Transport, final domain.TransportState) {
	peer.RemoveTransport(t.ID)
	_ = t.Transition(final)
	switch t.Direction {
	case domain.DirectionSend:
		for _, p := range peer.Producers() {
			if p.TransportID == t.ID {
				o.closeProducer(room, peer, p)
			}
		}
	case domain.DirectionRecv:
		for _, c := range peer.Consumers() {
			if c.TransportID == t.ID {
				closeConsumer(peer, c)
			}
		}
	}
	t.Engine.Close()
}
