package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
)

func (o *Orchestrator) Produce(ctx context.Context, sid core.SessionID, transportID string, kind domain.MediaKind, params domain.MediaParams) (string, error) {
	room, peer, err := o.peerRoom(sid)
	if err != nil {
		return "", err
	}
	defer room.Unlock()

	if !peer.Role().CanSend() {
		return "", fmt.Errorf("%w: role %s cannot send", core.ErrForbidden, peer.Role())
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown media kind %q", core.ErrProtocol, kind)
	}
	t, ok := peer.Transport(transportID)
	if !ok {
		return "", fmt.Errorf("transport %s: %w", transportID, core.ErrNotFound)
	}
	if t.Direction != domain.DirectionSend {
		return "", fmt.Errorf("%w: transport %s is not a send transport", core.ErrProtocol, transportID)
	}
	if t.State() == domain.TransportNew {
		return "", fmt.Errorf("%w: transport %s is not connected", core.ErrProtocol, transportID)
	}

	ep, err := t.Engine.Produce(ctx, kind, params)
	if err != nil {
		return "", o.checkFatal(fmt.Errorf("produce on %s: %w", transportID, err))
	}
	p := app.NewProducer(ep, peer.ID(), t.ID)
	peer.AddProducer(p)

	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("participant", string(peer.ID())).Str("producer", p.ID).Str("kind", string(kind)).Msg("producer opened")
	o.broadcast(room, peer.ID(), protocol.TypeStreamAvailable, protocol.StreamAvailable{
		ProducerID: p.ID,
		UserID:     peer.ID(),
		Kind:       p.Kind,
	})
	return p.ID, nil
}

// Consume creates a paused consumer. Consuming the same producer twice returns
// the consumer created the first time.
func (o *Orchestrator) Consume(ctx context.Context, sid core.SessionID, transportID, producerID string, caps domain.Capabilities) (protocol.ConsumerDescriptor, error) {
	var desc protocol.ConsumerDescriptor
	room, peer, err := o.peerRoom(sid)
	if err != nil {
		return desc, err
	}
	defer room.Unlock()

	t, ok := peer.Transport(transportID)
	if !ok {
		return desc, fmt.Errorf("transport %s: %w", transportID, core.ErrNotFound)
	}
	if t.Direction != domain.DirectionRecv {
		return desc, fmt.Errorf("%w: transport %s is not a receive transport", core.ErrProtocol, transportID)
	}
	if c, ok := peer.ConsumerFor(producerID); ok {
		return describe(c), nil
	}
	owner, p, ok := room.FindProducer(producerID)
	if !ok {
		return desc, fmt.Errorf("producer %s: %w", producerID, core.ErrNotFound)
	}
	if owner == peer {
		return desc, fmt.Errorf("%w: cannot consume own producer %s", core.ErrProtocol, producerID)
	}
	if !room.Router().CanConsume(p.ID, caps) {
		return desc, fmt.Errorf("producer %s: %w", producerID, core.ErrCapabilityMismatch)
	}

	ec, err := t.Engine.Consume(ctx, p.ID, caps)
	if err != nil {
		return desc, o.checkFatal(fmt.Errorf("consume %s: %w", producerID, err))
	}
	c := app.NewConsumer(ec, owner.ID(), t.ID)
	peer.AddConsumer(c)

	log.Debug().Str("module", "orch").Str("room", string(room.ID())).Str("participant", string(peer.ID())).Str("producer", producerID).Str("consumer", c.ID).Msg("consumer created")
	return describe(c), nil
}

func describe(c *app.Consumer) protocol.ConsumerDescriptor {
	return protocol.ConsumerDescriptor{
		ID:         c.ID,
		ProducerID: c.ProducerID,
		OwnerID:    c.ProducerOwner,
		Kind:       c.Kind,
		Paused:     c.State() == app.ConsumerPaused,
		Params:     c.Engine.Params(),
	}
}

func (o *Orchestrator) ResumeConsumer(ctx context.Context, sid core.SessionID, consumerID string) error {
	room, peer, err := o.peerRoom(sid)
	if err != nil {
		return err
	}
	defer room.Unlock()

	c, ok := peer.Consumer(consumerID)
	if !ok {
		return fmt.Errorf("consumer %s: %w", consumerID, core.ErrNotFound)
	}
	if c.State() == app.ConsumerResumed {
		return nil
	}
	if err := c.Engine.Resume(ctx); err != nil {
		return o.checkFatal(fmt.Errorf("resume %s: %w", consumerID, err))
	}
	return c.Resumed()
}

// PauseConsumer stops forwarding to one consumer until it is resumed again.
func (o *Orchestrator) PauseConsumer(ctx context.Context, sid core.SessionID, consumerID string) error {
	room, peer, err := o.peerRoom(sid)
	if err != nil {
		return err
	}
	defer room.Unlock()

	c, ok := peer.Consumer(consumerID)
	if !ok {
		return fmt.Errorf("consumer %s: %w", consumerID, core.ErrNotFound)
	}
	if c.State() == app.ConsumerPaused {
		return nil
	}
	if err := c.Engine.Pause(ctx); err != nil {
		return o.checkFatal(fmt.Errorf("pause %s: %w", consumerID, err))
	}
	return c.Paused()
}

func (o *Orchestrator) CloseProducer(_ context.Context, sid core.SessionID, producerID string) error {
	room, peer, err := o.peerRoom(sid)
	if err != nil {
		return err
	}
	defer room.Unlock()

	p, ok := peer.Producer(producerID)
	if !ok {
		return fmt.Errorf("producer %s: %w", producerID, core.ErrNotFound)
	}
	o.closeProducer(room, peer, p)
	return nil
}

// closeProducer closes p and every consumer of it in the room, then announces
// stream-closed. Caller holds the room lock.
func (o *Orchestrator) closeProducer(room *app.Room, owner *app.Peer, p *app.Producer) {
	owner.RemoveProducer(p.ID)
	if !p.MarkClosed() {
		return
	}
	for _, other := range room.Peers() {
		if other == owner {
			continue
		}
		if c, ok := other.ConsumerFor(p.ID); ok {
			closeConsumer(other, c)
		}
	}
	p.Engine.Close()

	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("participant", string(owner.ID())).Str("producer", p.ID).Msg("producer closed")
	o.broadcast(room, owner.ID(), protocol.TypeStreamClosed, protocol.StreamClosed{
		ProducerID: p.ID,
		UserID:     owner.ID(),
		Kind:       p.Kind,
	})
}

// closeConsumer also clears the peer's idempotency entry for the producer.
func closeConsumer(peer *app.Peer, c *app.Consumer) {
	peer.RemoveConsumer(c)
	if c.MarkClosed() {
		c.Engine.Close()
	}
}
