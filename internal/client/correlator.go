package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/protocol"
)

// DefaultGrace is how long an abandoned call is remembered so its late
// response is recognised.
const DefaultGrace = time.Minute

// Call is one outstanding request.
type Call struct {
	ID string

	done        chan callResult
	then        func(json.RawMessage)
	abandonedAt time.Time
}

type callResult struct {
	data json.RawMessage
	err  error
}

// Correlator matches response envelopes to the requests that caused them.
// There is no request timeout here: callers bound latency with their context.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*Call
	grace   time.Duration
	now     func() time.Time
	closed  error
}

func NewCorrelator(grace time.Duration) *Correlator {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Correlator{
		pending: make(map[string]*Call),
		grace:   grace,
		now:     time.Now,
	}
}

// Start registers a call under a fresh correlation id. A non-nil then sees a
// successful answer on the goroutine that resolves it, before any later frame
// is handled. Start fails with the FailAll error once the correlator is shut
// down.
func (c *Correlator) Start(then func(json.RawMessage)) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return nil, c.closed
	}
	c.sweep()
	call := &Call{ID: uuid.NewString(), done: make(chan callResult, 1), then: then}
	c.pending[call.ID] = call
	return call, nil
}

// Cancel forgets a call whose request never reached the wire.
func (c *Correlator) Cancel(call *Call) {
	c.mu.Lock()
	delete(c.pending, call.ID)
	c.mu.Unlock()
}

// Wait blocks until the call is answered or ctx ends. A call given up on stays
// registered for the grace period.
func (c *Correlator) Wait(ctx context.Context, call *Call) (json.RawMessage, error) {
	select {
	case r := <-call.done:
		return r.data, r.err
	case <-ctx.Done():
	}

	c.mu.Lock()
	if _, ok := c.pending[call.ID]; ok {
		call.abandonedAt = c.now()
	}
	c.mu.Unlock()

	select {
	case r := <-call.done:
		return r.data, r.err
	default:
		return nil, ctx.Err()
	}
}

// Resolve delivers a response envelope. Unknown ids are logged and dropped;
// responses to abandoned calls are dropped silently.
func (c *Correlator) Resolve(env protocol.Envelope) {
	c.mu.Lock()
	call, ok := c.pending[env.ResponseID]
	var abandoned bool
	if ok {
		delete(c.pending, env.ResponseID)
		abandoned = !call.abandonedAt.IsZero()
	}
	c.mu.Unlock()

	if !ok {
		log.Warn().Str("module", "client").Str("response", env.ResponseID).Msg("response for unknown request dropped")
		return
	}
	if abandoned {
		return
	}

	if env.Succeeded() {
		if call.then != nil {
			call.then(env.Data)
		}
		call.done <- callResult{data: env.Data}
		return
	}
	perr := env.Error
	if perr == nil {
		perr = &protocol.Error{Code: protocol.CodeInternal, Message: "request rejected"}
	}
	call.done <- callResult{err: perr}
}

// FailAll rejects every live call with err and forgets abandoned ones. Later
// calls to Start fail with err.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	if c.closed == nil {
		c.closed = err
	}
	live := make([]*Call, 0, len(c.pending))
	for _, call := range c.pending {
		if call.abandonedAt.IsZero() {
			live = append(live, call)
		}
	}
	c.pending = make(map[string]*Call)
	c.mu.Unlock()

	for _, call := range live {
		call.done <- callResult{err: err}
	}
}

// Len counts calls still registered, abandoned ones included.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// sweep drops abandoned calls past the grace period. Caller holds c.mu.
func (c *Correlator) sweep() {
	now := c.now()
	for id, call := range c.pending {
		if !call.abandonedAt.IsZero() && now.Sub(call.abandonedAt) > c.grace {
			delete(c.pending, id)
		}
	}
}
