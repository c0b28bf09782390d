package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/engine"
	"github.com/dkeye/huddle/internal/engine/memory"
)

func newEngineTransport(t *testing.T, dir domain.Direction) (engine.Router, engine.Transport) {
	t.Helper()
	r, err := memory.New().CreateRouter(context.Background(), "conf")
	require.NoError(t, err)
	et, err := r.CreateTransport(context.Background(), dir)
	require.NoError(t, err)
	return r, et
}

func TestTransport_Transitions(t *testing.T) {
	_, et := newEngineTransport(t, domain.DirectionSend)
	tr := NewTransport(et)
	assert.Equal(t, domain.TransportNew, tr.State())

	require.NoError(t, tr.Transition(domain.TransportConnecting))
	tr.Connected(json.RawMessage(`{"dtls":1}`), json.RawMessage(`{"ok":true}`))
	assert.Equal(t, domain.TransportConnected, tr.State())
	assert.True(t, tr.SameConnect(json.RawMessage(` {"dtls":1} `)))
	assert.False(t, tr.SameConnect(json.RawMessage(`{"dtls":2}`)))

	require.NoError(t, tr.Transition(domain.TransportDisconnected))
	require.NoError(t, tr.Transition(domain.TransportConnected))
	require.NoError(t, tr.Transition(domain.TransportFailed))

	err := tr.Transition(domain.TransportConnected)
	assert.ErrorIs(t, err, core.ErrProtocol)
	assert.Error(t, tr.Transition(domain.TransportClosed))
}

func TestPeer_ConsumerIndex(t *testing.T) {
	ctx := context.Background()
	r, send := newEngineTransport(t, domain.DirectionSend)
	recv, err := r.CreateTransport(ctx, domain.DirectionRecv)
	require.NoError(t, err)

	ep, err := send.Produce(ctx, domain.KindAudio, domain.MediaParams{})
	require.NoError(t, err)
	ec, err := recv.Consume(ctx, ep.ID(), engine.DefaultCapabilities())
	require.NoError(t, err)

	p := newTestPeer("bob", &fakeSignal{})
	c := NewConsumer(ec, "alice", recv.ID())
	p.AddConsumer(c)

	got, ok := p.ConsumerFor(ep.ID())
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, ConsumerPaused, c.State())
	require.NoError(t, c.Resumed())
	require.NoError(t, c.Resumed())
	assert.Equal(t, ConsumerResumed, c.State())

	assert.True(t, c.MarkClosed())
	assert.False(t, c.MarkClosed())
	assert.ErrorIs(t, c.Resumed(), core.ErrNotFound)

	p.RemoveConsumer(c)
	_, ok = p.ConsumerFor(ep.ID())
	assert.False(t, ok)
}

func TestCloseMedia(t *testing.T) {
	ctx := context.Background()
	r, send := newEngineTransport(t, domain.DirectionSend)
	ep, err := send.Produce(ctx, domain.KindVideo, domain.MediaParams{})
	require.NoError(t, err)

	p := newTestPeer("alice", &fakeSignal{})
	p.AddTransport(NewTransport(send))
	pr := NewProducer(ep, p.ID(), send.ID())
	p.AddProducer(pr)

	CloseMedia(p)
	assert.True(t, p.Closed())
	assert.Empty(t, p.Producers())
	assert.Empty(t, p.Transports())
	assert.Equal(t, ProducerClosed, pr.State())
	assert.False(t, r.CanConsume(ep.ID(), engine.DefaultCapabilities()))
}
