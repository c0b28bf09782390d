package app

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/engine"
)

// Room is one conference: its router and the peers currently in it.
//
// Every method except ID and PeerCount requires the caller to hold the room
// lock (see RoomRegistry.Acquire and RoomRegistry.Lookup).
type Room struct {
	mu sync.Mutex

	id     domain.ConferenceID
	router engine.Router
	peers  map[domain.ParticipantID]*Peer
	closed bool

	peerCount atomic.Int32
}

func newRoom(id domain.ConferenceID) *Room {
	return &Room{id: id, peers: make(map[domain.ParticipantID]*Peer)}
}

func (r *Room) Lock()   { r.mu.Lock() }
func (r *Room) Unlock() { r.mu.Unlock() }

func (r *Room) ID() domain.ConferenceID { return r.id }
func (r *Room) Router() engine.Router   { return r.router }
func (r *Room) Closed() bool            { return r.closed }

// PeerCount is safe without the room lock.
func (r *Room) PeerCount() int { return int(r.peerCount.Load()) }

func (r *Room) Peer(id domain.ParticipantID) (*Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// Current reports whether p is still the registered session for its participant.
func (r *Room) Current(p *Peer) bool {
	cur, ok := r.peers[p.ID()]
	return ok && cur == p && !r.closed
}

func (r *Room) AddPeer(p *Peer) {
	r.peers[p.ID()] = p
	r.peerCount.Store(int32(len(r.peers)))
}

func (r *Room) RemovePeer(p *Peer) {
	if cur, ok := r.peers[p.ID()]; ok && cur == p {
		delete(r.peers, p.ID())
		r.peerCount.Store(int32(len(r.peers)))
	}
}

func (r *Room) Peers() []*Peer {
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Room) Empty() bool { return len(r.peers) == 0 }

// Producers lists open producers of every peer except one.
func (r *Room) Producers(except domain.ParticipantID) []domain.ProducerInfo {
	out := make([]domain.ProducerInfo, 0)
	for _, p := range r.Peers() {
		if p.ID() == except {
			continue
		}
		for _, pr := range p.Producers() {
			out = append(out, pr.Info())
		}
	}
	return out
}

// FindProducer returns the producer with id and the peer that owns it.
func (r *Room) FindProducer(id string) (*Peer, *Producer, bool) {
	for _, p := range r.peers {
		if pr, ok := p.Producer(id); ok {
			return p, pr, true
		}
	}
	return nil, nil, false
}

type PublishResult struct {
	SendTo  []core.MemberSession
	Dropped []core.MemberSession
}

// Broadcast queues frame to every peer except from. Peers whose connection
// refuses the frame are reported in Dropped.
func (r *Room) Broadcast(from domain.ParticipantID, frame core.Frame) PublishResult {
	var res PublishResult
	for id, p := range r.peers {
		if id == from {
			continue
		}
		sess := p.Session()
		if err := sess.Signal().TrySend(frame); err != nil {
			if !errors.Is(err, core.ErrConnClosed) {
				log.Warn().Str("module", "app.room").Str("room", string(r.id)).Str("peer", string(id)).Err(err).Msg("broadcast dropped")
			}
			res.Dropped = append(res.Dropped, sess)
			continue
		}
		res.SendTo = append(res.SendTo, sess)
	}
	return res
}
