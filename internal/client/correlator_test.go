package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/protocol"
)

func okResponse(id string, data string) protocol.Envelope {
	ok := true
	return protocol.Envelope{Type: protocol.TypeResponse, ResponseID: id, OK: &ok, Data: json.RawMessage(data)}
}

func errResponse(id string, code protocol.Code) protocol.Envelope {
	ok := false
	return protocol.Envelope{Type: protocol.TypeResponse, ResponseID: id, OK: &ok, Error: &protocol.Error{Code: code, Message: "nope"}}
}

func start(t *testing.T, c *Correlator) *Call {
	t.Helper()
	call, err := c.Start(nil)
	require.NoError(t, err)
	return call
}

func TestCorrelator_ResolvesMatchingResponse(t *testing.T) {
	c := NewCorrelator(time.Minute)
	a, b := start(t, c), start(t, c)
	require.NotEqual(t, a.ID, b.ID)

	c.Resolve(okResponse(b.ID, `{"n":2}`))
	c.Resolve(okResponse(a.ID, `{"n":1}`))

	data, err := c.Wait(context.Background(), a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(data))
	data, err = c.Wait(context.Background(), b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(data))
	assert.Equal(t, 0, c.Len())
}

func TestCorrelator_RejectsWithTypedError(t *testing.T) {
	c := NewCorrelator(time.Minute)
	call := start(t, c)
	c.Resolve(errResponse(call.ID, protocol.CodeCapabilityMismatch))

	_, err := c.Wait(context.Background(), call)
	var perr *protocol.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, protocol.CodeCapabilityMismatch, perr.Code)
	assert.ErrorIs(t, err, core.ErrCapabilityMismatch)
}

func TestCorrelator_UnknownAndDuplicateResponsesDropped(t *testing.T) {
	c := NewCorrelator(time.Minute)
	call := start(t, c)

	assert.NotPanics(t, func() { c.Resolve(okResponse("never-issued", `{}`)) })
	c.Resolve(okResponse(call.ID, `{}`))
	assert.NotPanics(t, func() { c.Resolve(okResponse(call.ID, `{}`)) })

	_, err := c.Wait(context.Background(), call)
	assert.NoError(t, err)
}

func TestCorrelator_LateResponseAfterAbandon(t *testing.T) {
	c := NewCorrelator(time.Minute)
	call := start(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx, call)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, c.Len(), "abandoned call is kept to match its late response")

	c.Resolve(okResponse(call.ID, `{}`))
	assert.Equal(t, 0, c.Len())
	select {
	case <-call.done:
		t.Fatal("late response delivered to an abandoned call")
	default:
	}
}

func TestCorrelator_SweepsAfterGrace(t *testing.T) {
	c := NewCorrelator(time.Second)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	call := start(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Wait(ctx, call)
	require.ErrorIs(t, err, context.Canceled)

	now = now.Add(2 * time.Second)
	start(t, c)
	assert.Equal(t, 1, c.Len())
}

func TestCorrelator_FailAll(t *testing.T) {
	c := NewCorrelator(time.Minute)
	call := start(t, c)
	c.FailAll(ErrClosed)

	_, err := c.Wait(context.Background(), call)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, c.Len())

	_, err = c.Start(nil)
	assert.ErrorIs(t, err, ErrClosed, "no new calls after shutdown")
	assert.Equal(t, 0, c.Len())
}

func TestCorrelator_Cancel(t *testing.T) {
	c := NewCorrelator(time.Minute)
	call := start(t, c)
	c.Cancel(call)
	assert.Equal(t, 0, c.Len())
	assert.NotPanics(t, func() { c.Cancel(call) })
}

func TestCorrelator_ThenRunsOnResolve(t *testing.T) {
	c := NewCorrelator(time.Minute)
	var seen string
	call, err := c.Start(func(raw json.RawMessage) { seen = string(raw) })
	require.NoError(t, err)

	c.Resolve(okResponse(call.ID, `{"n":1}`))
	assert.JSONEq(t, `{"n":1}`, seen, "hook ran before Resolve returned")

	failed, err := c.Start(func(json.RawMessage) { t.Fatal("hook ran for a rejected call") })
	require.NoError(t, err)
	c.Resolve(errResponse(failed.ID, protocol.CodeNotFound))
	_, err = c.Wait(context.Background(), failed)
	assert.Error(t, err)
}
