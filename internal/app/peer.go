package app

import (
	"sort"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// Peer is one participant's live session inside a room. All fields are guarded
// by the room lock.
type Peer struct {
	session core.MemberSession

	transports map[string]*Transport
	producers  map[string]*Producer
	consumers  map[string]*Consumer
	// consumed maps producer id -> consumer id, at most one consumer per producer.
	consumed map[string]string
	closed   bool
}

func NewPeer(session core.MemberSession) *Peer {
	return &Peer{
		session:    session,
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
		consumers:  make(map[string]*Consumer),
		consumed:   make(map[string]string),
	}
}

func (p *Peer) ID() domain.ParticipantID      { return p.session.Meta().User.ID }
func (p *Peer) Role() domain.Role             { return p.session.Meta().Role }
func (p *Peer) DisplayName() string           { return p.session.Meta().User.DisplayName }
func (p *Peer) SID() core.SessionID           { return p.session.SID() }
func (p *Peer) Session() core.MemberSession   { return p.session }
func (p *Peer) Signal() core.SignalConnection { return p.session.Signal() }
func (p *Peer) Closed() bool                  { return p.closed }

func (p *Peer) AddTransport(t *Transport) { p.transports[t.ID] = t }

func (p *Peer) Transport(id string) (*Transport, bool) {
	t, ok := p.transports[id]
	return t, ok
}

func (p *Peer) RemoveTransport(id string) { delete(p.transports, id) }

func (p *Peer) Transports() []*Transport {
	out := make([]*Transport, 0, len(p.transports))
	for _, t := range p.transports {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Peer) AddProducer(pr *Producer) { p.producers[pr.ID] = pr }

func (p *Peer) Producer(id string) (*Producer, bool) {
	pr, ok := p.producers[id]
	return pr, ok
}

func (p *Peer) RemoveProducer(id string) { delete(p.producers, id) }

func (p *Peer) Producers() []*Producer {
	out := make([]*Producer, 0, len(p.producers))
	for _, pr := range p.producers {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Peer) AddConsumer(c *Consumer) {
	p.consumers[c.ID] = c
	p.consumed[c.ProducerID] = c.ID
}

func (p *Peer) Consumer(id string) (*Consumer, bool) {
	c, ok := p.consumers[id]
	return c, ok
}

// ConsumerFor returns the consumer this peer holds for a producer.
func (p *Peer) ConsumerFor(producerID string) (*Consumer, bool) {
	id, ok := p.consumed[producerID]
	if !ok {
		return nil, false
	}
	return p.Consumer(id)
}

func (p *Peer) RemoveConsumer(c *Consumer) {
	delete(p.consumers, c.ID)
	if p.consumed[c.ProducerID] == c.ID {
		delete(p.consumed, c.ProducerID)
	}
}

func (p *Peer) Consumers() []*Consumer {
	out := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkClosed reports false when the peer was already torn down.
func (p *Peer) MarkClosed() bool {
	if p.closed {
		return false
	}
	p.closed = true
	return true
}
