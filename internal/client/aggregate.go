package client

import (
	"sort"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/domain"
)

// RemoteTrack is one consumed stream of a remote participant.
type RemoteTrack struct {
	ProducerID string
	ConsumerID string
	Owner      domain.ParticipantID
	Kind       domain.MediaKind
	Track      Track

	active atomic.Bool
	done   chan struct{}
}

func newRemoteTrack(info domain.ProducerInfo, consumerID string, t Track) *RemoteTrack {
	return &RemoteTrack{
		ProducerID: info.ProducerID,
		ConsumerID: consumerID,
		Owner:      info.OwnerID,
		Kind:       info.Kind,
		Track:      t,
		done:       make(chan struct{}),
	}
}

// Active reports whether the track was surfaced as ready to render.
func (r *RemoteTrack) Active() bool { return r.active.Load() }

func (r *RemoteTrack) release() {
	select {
	case <-r.done:
		return
	default:
	}
	close(r.done)
	r.Track.Stop()
}

// StreamInfo is a read-only view of a RemoteTrack.
type StreamInfo struct {
	ProducerID string
	Owner      domain.ParticipantID
	Kind       domain.MediaKind
	Active     bool
}

func (r *RemoteTrack) Info() StreamInfo {
	return StreamInfo{ProducerID: r.ProducerID, Owner: r.Owner, Kind: r.Kind, Active: r.Active()}
}

// Aggregate is the logical stream of one remote participant: at most one
// track per kind.
type Aggregate struct {
	Participant domain.ParticipantID
	tracks      map[domain.MediaKind]*RemoteTrack
}

func newAggregate(id domain.ParticipantID) *Aggregate {
	return &Aggregate{Participant: id, tracks: make(map[domain.MediaKind]*RemoteTrack)}
}

// Set installs t and returns the track of the same kind it replaced.
func (a *Aggregate) Set(t *RemoteTrack) *RemoteTrack {
	old := a.tracks[t.Kind]
	a.tracks[t.Kind] = t
	if old == t {
		return nil
	}
	return old
}

// Remove drops the track of producerID, leaving other kinds alone.
func (a *Aggregate) Remove(producerID string) (*RemoteTrack, bool) {
	for kind, t := range a.tracks {
		if t.ProducerID == producerID {
			delete(a.tracks, kind)
			return t, true
		}
	}
	return nil, false
}

func (a *Aggregate) Track(kind domain.MediaKind) (*RemoteTrack, bool) {
	t, ok := a.tracks[kind]
	return t, ok
}

func (a *Aggregate) Tracks() []*RemoteTrack {
	out := make([]*RemoteTrack, 0, len(a.tracks))
	for _, t := range a.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func (a *Aggregate) Len() int    { return len(a.tracks) }
func (a *Aggregate) Empty() bool { return len(a.tracks) == 0 }
