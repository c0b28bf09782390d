package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

type sessionEntry struct {
	ClientToken domain.ParticipantID
	Signal      core.SignalConnection
	Cancel      context.CancelFunc

	Room domain.ConferenceID
	Peer *Peer
}

// Registry tracks live signaling connections and the room each one joined.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*sessionEntry)}
}

// BindSignal registers a connection. token is the participant id used when a
// join request carries none.
func (r *Registry) BindSignal(sid core.SessionID, token domain.ParticipantID, sig core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{ClientToken: token, Signal: sig, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) Signal(sid core.SessionID) (core.SignalConnection, domain.ParticipantID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Signal, e.ClientToken, true
	}
	return nil, "", false
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.ConferenceID, *Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Peer == nil {
		return "", nil, false
	}
	return e.Room, e.Peer, true
}

// SetRoom binds the connection to its peer. It fails when the connection is
// already gone.
func (r *Registry) SetRoom(sid core.SessionID, room domain.ConferenceID, p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Room, e.Peer = room, p
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("updated room")
	return true
}

// ClearRoom drops the room binding if it still points at p.
func (r *Registry) ClearRoom(sid core.SessionID, p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok && e.Peer == p {
		e.Room, e.Peer = "", nil
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
	}
}

// Outside returns the connections that are not in room.
func (r *Registry) Outside(room domain.ConferenceID) []core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SignalConnection, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.Room != room {
			out = append(out, e.Signal)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
