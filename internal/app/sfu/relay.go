package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketSource reads the next packet of a producer's incoming track.
type PacketSource func() (*rtp.Packet, error)

// Relay forwards one producer's packets to its consumers' out tracks.
type Relay struct {
	ProducerID string

	mu        sync.RWMutex
	outTracks map[string]*OutTrack
	started   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(parent context.Context, producerID string) *Relay {
	ctx, cancel := context.WithCancel(parent)
	return &Relay{
		ProducerID: producerID,
		outTracks:  make(map[string]*OutTrack),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the forwarding loop over src. Only the first call has effect.
func (r *Relay) Start(src PacketSource, logger *zerolog.Logger) bool {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return false
	}
	r.started = true
	r.mu.Unlock()
	go r.loop(src, logger)
	return true
}

// Done is closed when the loop exits.
func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) loop(src PacketSource, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			logger.Debug().Msg("relay stopped, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, err := src()
		if err != nil {
			logger.Info().Err(err).Msg("relay read RTP ended")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []string
	for consumerID, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, consumerID)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("consumer", consumerID).Msg("relay write RTP error, marking out track as delete")
				ot.MarkDelete()
				dirty = append(dirty, consumerID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(consumerID string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[consumerID] = ot
}

func (r *Relay) OutTrack(consumerID string) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[consumerID]
	return ot, ok
}

func (r *Relay) Stop() {
	r.cancel()
	r.markAllDelete()
}
