package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/engine"
)

// RoomManager owns the conference map. Lock order is room -> manager: the
// manager lock is never held while waiting on a room lock.
type RoomManager struct {
	engine engine.Engine

	mu    sync.RWMutex
	rooms map[domain.ConferenceID]*Room
}

func NewRoomManager(e engine.Engine) *RoomManager {
	return &RoomManager{engine: e, rooms: make(map[domain.ConferenceID]*Room)}
}

// Acquire returns the room for id with its lock held, creating the room and its
// router when absent. A new room is published locked, so concurrent joins wait
// for router creation and retry if it failed.
func (m *RoomManager) Acquire(ctx context.Context, id domain.ConferenceID) (room *Room, created bool, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		m.mu.Lock()
		room, ok := m.rooms[id]
		if !ok {
			room = newRoom(id)
			room.mu.Lock()
			m.rooms[id] = room
			m.mu.Unlock()

			router, err := m.engine.CreateRouter(ctx, id)
			if err != nil {
				room.closed = true
				m.remove(room)
				room.mu.Unlock()
				return nil, false, fmt.Errorf("create router for %s: %w", id, err)
			}
			room.router = router
			log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("router", router.ID()).Msg("room created")
			return room, true, nil
		}
		m.mu.Unlock()

		room.mu.Lock()
		if !room.closed {
			return room, false, nil
		}
		room.mu.Unlock()
	}
}

// Lookup returns an existing open room with its lock held.
func (m *RoomManager) Lookup(id domain.ConferenceID) (*Room, bool) {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	room.mu.Lock()
	if room.closed {
		room.mu.Unlock()
		return nil, false
	}
	return room, true
}

// ReleaseIfEmpty destroys a locked room that has no peers left: the router is
// closed and the id becomes free for a fresh room.
func (m *RoomManager) ReleaseIfEmpty(room *Room) bool {
	if room.closed || !room.Empty() {
		return false
	}
	room.closed = true
	if room.router != nil {
		room.router.Close()
	}
	m.remove(room)
	log.Info().Str("module", "app.rooms").Str("room", string(room.id)).Msg("room destroyed")
	return true
}

func (m *RoomManager) remove(room *Room) {
	m.mu.Lock()
	if cur, ok := m.rooms[room.id]; ok && cur == room {
		delete(m.rooms, room.id)
	}
	m.mu.Unlock()
}

func (m *RoomManager) List() []domain.RoomInfo {
	m.mu.RLock()
	out := make([]domain.RoomInfo, 0, len(m.rooms))
	for id, r := range m.rooms {
		if n := r.PeerCount(); n > 0 {
			out = append(out, domain.RoomInfo{ConferenceID: id, PeerCount: n})
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConferenceID < out[j].ConferenceID })
	return out
}

func (m *RoomManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Close tears every room down in parallel. Peers are dropped without events.
func (m *RoomManager) Close() {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	var wg conc.WaitGroup
	for _, r := range rooms {
		wg.Go(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.closed {
				return
			}
			for _, p := range r.Peers() {
				CloseMedia(p)
				r.RemovePeer(p)
			}
			m.ReleaseIfEmpty(r)
		})
	}
	wg.Wait()
}

// CloseMedia releases every engine object a peer holds, without notifying
// anyone. Caller holds the room lock.
func CloseMedia(p *Peer) {
	p.MarkClosed()
	for _, c := range p.Consumers() {
		if c.MarkClosed() {
			c.Engine.Close()
		}
		p.RemoveConsumer(c)
	}
	for _, pr := range p.Producers() {
		if pr.MarkClosed() {
			pr.Engine.Close()
		}
		p.RemoveProducer(pr.ID)
	}
	for _, t := range p.Transports() {
		_ = t.Transition(domain.TransportClosed)
		t.Engine.Close()
		p.RemoveTransport(t.ID)
	}
}
