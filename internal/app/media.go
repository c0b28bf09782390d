package app

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/engine"
)

// The records below are owned by one Peer and guarded by the lock of the room
// the peer belongs to.

type Transport struct {
	ID        string
	Direction domain.Direction
	Engine    engine.Transport

	state         domain.TransportState
	connectParams json.RawMessage
	connectResult json.RawMessage
}

func NewTransport(et engine.Transport) *Transport {
	return &Transport{
		ID:        et.ID(),
		Direction: et.Direction(),
		Engine:    et,
		state:     domain.TransportNew,
	}
}

func (t *Transport) State() domain.TransportState { return t.state }

var transportTransitions = map[domain.TransportState][]domain.TransportState{
	domain.TransportNew:          {domain.TransportConnecting, domain.TransportClosed, domain.TransportFailed},
	domain.TransportConnecting:   {domain.TransportNew, domain.TransportConnected, domain.TransportFailed, domain.TransportClosed, domain.TransportDisconnected},
	domain.TransportConnected:    {domain.TransportFailed, domain.TransportClosed, domain.TransportDisconnected},
	domain.TransportDisconnected: {domain.TransportConnected, domain.TransportFailed, domain.TransportClosed},
}

// Transition moves the transport to state to. Failed and closed are terminal.
func (t *Transport) Transition(to domain.TransportState) error {
	if t.state == to {
		return nil
	}
	for _, allowed := range transportTransitions[t.state] {
		if allowed == to {
			t.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: transport %s cannot go from %s to %s", core.ErrProtocol, t.ID, t.state, to)
}

// Connected records a successful handshake.
func (t *Transport) Connected(params, result json.RawMessage) {
	t.connectParams = params
	t.connectResult = result
	if t.state == domain.TransportConnecting {
		t.state = domain.TransportConnected
	}
}

// SameConnect reports whether params repeat the handshake already applied.
func (t *Transport) SameConnect(params json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(t.connectParams), bytes.TrimSpace(params))
}

func (t *Transport) ConnectResult() json.RawMessage { return t.connectResult }

type ProducerState int

const (
	ProducerOpen ProducerState = iota
	ProducerClosed
)

type Producer struct {
	ID          string
	Kind        domain.MediaKind
	OwnerID     domain.ParticipantID
	TransportID string
	Engine      engine.Producer

	state ProducerState
}

func NewProducer(ep engine.Producer, owner domain.ParticipantID, transportID string) *Producer {
	return &Producer{
		ID:          ep.ID(),
		Kind:        ep.Kind(),
		OwnerID:     owner,
		TransportID: transportID,
		Engine:      ep,
	}
}

func (p *Producer) State() ProducerState { return p.state }

// MarkClosed reports false when the producer was already closed.
func (p *Producer) MarkClosed() bool {
	if p.state == ProducerClosed {
		return false
	}
	p.state = ProducerClosed
	return true
}

func (p *Producer) Info() domain.ProducerInfo {
	return domain.ProducerInfo{ProducerID: p.ID, OwnerID: p.OwnerID, Kind: p.Kind}
}

type ConsumerState int

const (
	ConsumerPaused ConsumerState = iota
	ConsumerResumed
	ConsumerClosed
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerPaused:
		return "paused"
	case ConsumerResumed:
		return "resumed"
	case ConsumerClosed:
		return "closed"
	}
	return "unknown"
}

type Consumer struct {
	ID            string
	ProducerID    string
	ProducerOwner domain.ParticipantID
	TransportID   string
	Kind          domain.MediaKind
	Engine        engine.Consumer

	state ConsumerState
}

func NewConsumer(ec engine.Consumer, producerOwner domain.ParticipantID, transportID string) *Consumer {
	return &Consumer{
		ID:            ec.ID(),
		ProducerID:    ec.ProducerID(),
		ProducerOwner: producerOwner,
		TransportID:   transportID,
		Kind:          ec.Kind(),
		Engine:        ec,
	}
}

func (c *Consumer) State() ConsumerState { return c.state }

// Resumed moves paused -> resumed. Resuming twice is a no-op.
func (c *Consumer) Resumed() error {
	switch c.state {
	case ConsumerPaused, ConsumerResumed:
		c.state = ConsumerResumed
		return nil
	}
	return fmt.Errorf("consumer %s: %w", c.ID, core.ErrNotFound)
}

// Paused moves resumed -> paused. Pausing twice is a no-op.
func (c *Consumer) Paused() error {
	switch c.state {
	case ConsumerPaused, ConsumerResumed:
		c.state = ConsumerPaused
		return nil
	}
	return fmt.Errorf("consumer %s: %w", c.ID, core.ErrNotFound)
}

func (c *Consumer) MarkClosed() bool {
	if c.state == ConsumerClosed {
		return false
	}
	c.state = ConsumerClosed
	return true
}
