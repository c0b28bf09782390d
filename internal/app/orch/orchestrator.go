// Package orch drives rooms, peers and the media engine on behalf of signaling
// connections. Every operation takes the room lock for its whole duration, so
// engine calls for one conference are serialized while other conferences
// proceed in parallel.
package orch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Policy   app.Policy

	fatalOnce sync.Once
	fatal     chan error
}

func New(reg *app.Registry, rooms *app.RoomManager, policy app.Policy) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Policy:   policy,
		fatal:    make(chan error, 1),
	}
}

// Fatal delivers the first engine failure. The process is expected to exit.
func (o *Orchestrator) Fatal() <-chan error { return o.fatal }

// checkFatal forwards engine-fatal errors to Fatal and returns err unchanged.
func (o *Orchestrator) checkFatal(err error) error {
	if err != nil && errors.Is(err, core.ErrFatal) {
		o.fatalOnce.Do(func() {
			log.Error().Str("module", "orch").Err(err).Msg("media engine unusable")
			o.fatal <- err
		})
	}
	return err
}

// peerRoom returns the caller's room, locked, and its current peer session.
func (o *Orchestrator) peerRoom(sid core.SessionID) (*app.Room, *app.Peer, error) {
	conf, peer, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, nil, fmt.Errorf("%w: join a room first", core.ErrProtocol)
	}
	room, ok := o.Rooms.Lookup(conf)
	if !ok {
		o.Registry.ClearRoom(sid, peer)
		return nil, nil, fmt.Errorf("room %s: %w", conf, core.ErrNotFound)
	}
	if !room.Current(peer) {
		room.Unlock()
		o.Registry.ClearRoom(sid, peer)
		return nil, nil, fmt.Errorf("peer %s: %w", peer.ID(), core.ErrNotFound)
	}
	return room, peer, nil
}

// broadcast sends an event to every peer but from and applies the backpressure
// policy to connections that could not take it. Caller holds the room lock.
func (o *Orchestrator) broadcast(room *app.Room, from domain.ParticipantID, t protocol.Type, data any) {
	frame, err := protocol.NewEvent(t, data)
	if err != nil {
		log.Error().Str("module", "orch").Str("event", string(t)).Err(err).Msg("encode event")
		return
	}
	res := room.Broadcast(from, frame)
	o.onDropped(room, res.Dropped)
}

func (o *Orchestrator) onDropped(room *app.Room, dropped []core.MemberSession) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow.SID())).Str("room", string(room.ID())).Msg("kicking slow member")
			o.Registry.Cancel(slow.SID())
		case app.NoAction:
		}
	}
}

// notify sends an event to one connection.
func notify(sig core.SignalConnection, t protocol.Type, data any) {
	frame, err := protocol.NewEvent(t, data)
	if err != nil {
		log.Error().Str("module", "orch").Str("event", string(t)).Err(err).Msg("encode event")
		return
	}
	if err := sig.TrySend(frame); err != nil {
		log.Debug().Str("module", "orch").Str("event", string(t)).Err(err).Msg("notify dropped")
	}
}

// ListRooms lists the occupied conferences.
func (o *Orchestrator) ListRooms() []domain.RoomInfo {
	return o.Rooms.List()
}
