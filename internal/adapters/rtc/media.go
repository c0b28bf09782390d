package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/huddle/internal/app/sfu"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

type Producer struct {
	id        string
	kind      domain.MediaKind
	codec     domain.Codec
	trackID   string
	transport *Transport

	// bound is guarded by transport.mu.
	bound bool

	closeOnce sync.Once
}

func (p *Producer) ID() string             { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }
func (p *Producer) Codec() domain.Codec    { return p.codec }

// matches reports whether an incoming track is this producer's media. Without
// a track id the first track of the right kind wins.
func (p *Producer) matches(track *webrtc.TrackRemote) bool {
	if p.trackID != "" {
		return track.ID() == p.trackID
	}
	return track.Kind() == rtpCodecType(p.kind)
}

func (p *Producer) Close() {
	p.closeOnce.Do(func() {
		p.transport.forgetProducer(p.id)
		p.transport.router.removeProducer(p.id)
	})
}

func newConsumerTrack(local *webrtc.TrackLocalStaticRTP) *sfu.OutTrack {
	return sfu.NewOutTrack(local)
}

// Consumer is a slot on a receive transport fed by a producer's relay. Pause
// and resume map to the out track's muted and ok states.
type Consumer struct {
	id        string
	producer  *Producer
	transport *Transport
	slot      *slot
	out       *sfu.OutTrack

	mu     sync.Mutex
	closed bool
}

type consumerParams struct {
	Codec    domain.Codec `json:"codec"`
	Mid      string       `json:"mid,omitempty"`
	TrackID  string       `json:"trackId"`
	StreamID string       `json:"streamId"`
}

func (c *Consumer) ID() string             { return c.id }
func (c *Consumer) ProducerID() string     { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind { return c.producer.kind }

func (c *Consumer) Params() json.RawMessage {
	b, _ := json.Marshal(consumerParams{
		Codec:    c.producer.codec,
		Mid:      c.slot.transceiver.Mid(),
		TrackID:  c.id,
		StreamID: c.producer.id,
	})
	return b
}

func (c *Consumer) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("consumer %s: %w", c.id, core.ErrNotFound)
	}
	c.out.MarkOk()
	return nil
}

func (c *Consumer) Pause(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("consumer %s: %w", c.id, core.ErrNotFound)
	}
	c.out.MarkMuted()
	return nil
}

// State exposes the forwarding state of the consumer's out track.
func (c *Consumer) State() sfu.TrackState { return c.out.GetState() }

func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.out.MarkDelete()
	c.transport.router.relays.MarkSubscriberDelete(c.producer.id, c.id)
	c.transport.releaseSlot(c.slot)
}
