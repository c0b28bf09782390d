package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/engine"
)

func TestRouter_ProduceConsumeLifecycle(t *testing.T) {
	ctx := context.Background()
	e := New()
	r, err := e.CreateRouter(ctx, "conf")
	require.NoError(t, err)
	assert.Equal(t, 1, e.RouterCount())

	send, err := r.CreateTransport(ctx, domain.DirectionSend)
	require.NoError(t, err)
	recv, err := r.CreateTransport(ctx, domain.DirectionRecv)
	require.NoError(t, err)

	_, err = recv.Produce(ctx, domain.KindAudio, domain.MediaParams{})
	require.ErrorIs(t, err, core.ErrProtocol)

	p, err := send.Produce(ctx, domain.KindVideo, domain.MediaParams{})
	require.NoError(t, err)
	assert.Equal(t, "video/VP8", p.Codec().MimeType)

	caps := engine.DefaultCapabilities()
	assert.True(t, r.CanConsume(p.ID(), caps))

	c, err := recv.Consume(ctx, p.ID(), caps)
	require.NoError(t, err)
	mc := c.(*Consumer)
	assert.True(t, mc.Paused())
	require.NoError(t, c.Resume(ctx))
	assert.False(t, mc.Paused())

	p.Close()
	assert.False(t, r.CanConsume(p.ID(), caps))
	_, err = recv.Consume(ctx, p.ID(), caps)
	assert.ErrorIs(t, err, core.ErrNotFound)

	r.Close()
	assert.Equal(t, 0, e.RouterCount())
}

func TestRouter_CapabilityMismatch(t *testing.T) {
	ctx := context.Background()
	r, err := New().CreateRouter(ctx, "conf")
	require.NoError(t, err)
	send, _ := r.CreateTransport(ctx, domain.DirectionSend)
	recv, _ := r.CreateTransport(ctx, domain.DirectionRecv)

	p, err := send.Produce(ctx, domain.KindAudio, domain.MediaParams{})
	require.NoError(t, err)

	videoOnly := domain.Capabilities{Codecs: []domain.Codec{{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000}}}
	assert.False(t, r.CanConsume(p.ID(), videoOnly))
	_, err = recv.Consume(ctx, p.ID(), videoOnly)
	assert.ErrorIs(t, err, core.ErrCapabilityMismatch)
}

func TestTransport_CloseClosesProducers(t *testing.T) {
	ctx := context.Background()
	r, _ := New().CreateRouter(ctx, "conf")
	send, _ := r.CreateTransport(ctx, domain.DirectionSend)
	p, err := send.Produce(ctx, domain.KindAudio, domain.MediaParams{})
	require.NoError(t, err)

	var states []domain.TransportState
	send.OnStateChange(func(s domain.TransportState) { states = append(states, s) })
	send.(*Transport).SetState(domain.TransportConnected)
	send.Close()

	assert.Equal(t, []domain.TransportState{domain.TransportConnected}, states)
	assert.False(t, r.CanConsume(p.ID(), engine.DefaultCapabilities()))
	_, err = send.Connect(ctx, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_FailIsFatal(t *testing.T) {
	e := New()
	e.Fail(errors.New("worker died"))
	e.Fail(errors.New("again"))

	select {
	case <-e.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.EqualError(t, e.Err(), "worker died")
	_, err := e.CreateRouter(context.Background(), "conf")
	assert.ErrorIs(t, err, core.ErrFatal)
}
