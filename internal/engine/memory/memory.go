// Package memory is an in-process media-routing engine. It keeps the full
// router/transport/producer/consumer bookkeeping but forwards no media, which
// makes it the engine for tests and for headless deployments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/engine"
)

type Engine struct {
	caps domain.Capabilities

	mu      sync.Mutex
	routers map[string]*Router
	err     error

	done     chan struct{}
	failOnce sync.Once
}

type Option func(*Engine)

func WithCapabilities(caps domain.Capabilities) Option {
	return func(e *Engine) { e.caps = caps }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		caps:    engine.DefaultCapabilities(),
		routers: make(map[string]*Router),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) CreateRouter(ctx context.Context, conferenceID domain.ConferenceID) (engine.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrFatal, e.err)
	}
	r := &Router{
		id:         uuid.NewString(),
		conference: conferenceID,
		engine:     e,
		caps:       e.caps,
		producers:  make(map[string]*Producer),
	}
	e.routers[r.id] = r
	log.Debug().Str("module", "engine.memory").Str("router", r.id).Str("room", string(conferenceID)).Msg("router created")
	return r, nil
}

func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Fail marks the engine unusable, the way a crashed worker process would.
func (e *Engine) Fail(err error) {
	e.failOnce.Do(func() {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		close(e.done)
	})
}

func (e *Engine) Close() error {
	e.mu.Lock()
	routers := make([]*Router, 0, len(e.routers))
	for _, r := range e.routers {
		routers = append(routers, r)
	}
	e.mu.Unlock()
	for _, r := range routers {
		r.Close()
	}
	return nil
}

// RouterCount returns the number of routers that are still open.
func (e *Engine) RouterCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.routers)
}

func (e *Engine) removeRouter(id string) {
	e.mu.Lock()
	delete(e.routers, id)
	e.mu.Unlock()
}

type Router struct {
	id         string
	conference domain.ConferenceID
	engine     *Engine
	caps       domain.Capabilities

	mu        sync.Mutex
	producers map[string]*Producer
	closed    bool
}

func (r *Router) ID() string                        { return r.id }
func (r *Router) Capabilities() domain.Capabilities { return r.caps }

func (r *Router) CanConsume(producerID string, caps domain.Capabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return engine.MatchCodec(p.codec, caps)
}

func (r *Router) CreateTransport(ctx context.Context, dir domain.Direction) (engine.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router %s: %w", r.id, core.ErrNotFound)
	}
	return &Transport{id: uuid.NewString(), dir: dir, router: r, state: domain.TransportNew}, nil
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for id, p := range r.producers {
		p.markClosed()
		delete(r.producers, id)
	}
	r.mu.Unlock()
	r.engine.removeRouter(r.id)
	log.Debug().Str("module", "engine.memory").Str("router", r.id).Msg("router closed")
}

// Closed reports whether Close was called.
func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) addProducer(p *Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("router %s: %w", r.id, core.ErrNotFound)
	}
	r.producers[p.id] = p
	return nil
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

type Transport struct {
	id     string
	dir    domain.Direction
	router *Router

	mu        sync.Mutex
	state     domain.TransportState
	onState   func(domain.TransportState)
	producers []*Producer
	consumers []*Consumer
}

func (t *Transport) ID() string                  { return t.id }
func (t *Transport) Direction() domain.Direction { return t.dir }

func (t *Transport) Params() json.RawMessage {
	b, _ := json.Marshal(map[string]string{"transportId": t.id, "direction": string(t.dir)})
	return b
}

func (t *Transport) Connect(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return nil, fmt.Errorf("transport %s is %s: %w", t.id, t.state, core.ErrNotFound)
	}
	t.state = domain.TransportConnected
	return nil, nil
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, params domain.MediaParams) (engine.Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.dir != domain.DirectionSend {
		return nil, fmt.Errorf("%w: transport %s cannot produce", core.ErrProtocol, t.id)
	}
	codec, ok := engine.SelectCodec(kind, params.Codecs, t.router.caps)
	if !ok {
		return nil, fmt.Errorf("%w: no supported %s codec offered", core.ErrProtocol, kind)
	}
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport %s: %w", t.id, core.ErrNotFound)
	}
	p := &Producer{id: uuid.NewString(), kind: kind, codec: codec, router: t.router}
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	if err := t.router.addProducer(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string, caps domain.Capabilities) (engine.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.dir != domain.DirectionRecv {
		return nil, fmt.Errorf("%w: transport %s cannot consume", core.ErrProtocol, t.id)
	}
	p, ok := t.router.producer(producerID)
	if !ok {
		return nil, fmt.Errorf("producer %s: %w", producerID, core.ErrNotFound)
	}
	if !engine.MatchCodec(p.codec, caps) {
		return nil, fmt.Errorf("producer %s: %w", producerID, core.ErrCapabilityMismatch)
	}
	c := &Consumer{id: uuid.NewString(), producerID: producerID, kind: p.kind, codec: p.codec, paused: true}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) OnStateChange(fn func(domain.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// SetState simulates a connection state change reported by the network.
func (t *Transport) SetState(s domain.TransportState) {
	t.mu.Lock()
	t.state = s
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) State() domain.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.state == domain.TransportClosed {
		t.mu.Unlock()
		return
	}
	t.state = domain.TransportClosed
	producers, consumers := t.producers, t.consumers
	t.producers, t.consumers = nil, nil
	t.mu.Unlock()
	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
}

type Producer struct {
	id     string
	kind   domain.MediaKind
	codec  domain.Codec
	router *Router

	mu     sync.Mutex
	closed bool
}

func (p *Producer) ID() string             { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }
func (p *Producer) Codec() domain.Codec    { return p.codec }

func (p *Producer) Close() {
	if p.markClosed() {
		p.router.removeProducer(p.id)
	}
}

func (p *Producer) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}

type Consumer struct {
	id         string
	producerID string
	kind       domain.MediaKind
	codec      domain.Codec

	mu     sync.Mutex
	paused bool
	closed bool
}

func (c *Consumer) ID() string             { return c.id }
func (c *Consumer) ProducerID() string     { return c.producerID }
func (c *Consumer) Kind() domain.MediaKind { return c.kind }

func (c *Consumer) Params() json.RawMessage {
	b, _ := json.Marshal(map[string]any{"codec": c.codec})
	return b
}

func (c *Consumer) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("consumer %s: %w", c.id, core.ErrNotFound)
	}
	c.paused = false
	return nil
}

func (c *Consumer) Pause(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("consumer %s: %w", c.id, core.ErrNotFound)
	}
	c.paused = true
	return nil
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
