// Package rtc is the pion/webrtc media engine: a router is a webrtc API with
// its own MediaEngine, a transport is a PeerConnection, and producers are
// forwarded to consumers through sfu relays.
package rtc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app/sfu"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/engine"
)

const (
	defaultReceiveSlots  = 8
	defaultGatherTimeout = 2 * time.Second
)

type Options struct {
	ICEServers []string
	// ReceiveSlots is the number of pre-negotiated transceivers per media kind on
	// a receive transport, i.e. how many remote streams of each kind it can carry.
	ReceiveSlots int
	// GatherTimeout bounds the wait for ICE candidates while the room is locked.
	GatherTimeout   time.Duration
	Capabilities    domain.Capabilities
	IncludeLoopback bool
	LogLevel        zerolog.Level
}

func DefaultOptions() Options {
	return Options{
		ICEServers:    []string{"stun:stun.l.google.com:19302"},
		ReceiveSlots:  defaultReceiveSlots,
		GatherTimeout: defaultGatherTimeout,
		Capabilities:  engine.DefaultCapabilities(),
		LogLevel:      zerolog.WarnLevel,
	}
}

type Engine struct {
	opts     Options
	pcConfig webrtc.Configuration

	mu      sync.Mutex
	routers map[string]*Router
	err     error

	done     chan struct{}
	failOnce sync.Once
}

func New(opts Options) *Engine {
	if opts.ReceiveSlots <= 0 {
		opts.ReceiveSlots = defaultReceiveSlots
	}
	if opts.GatherTimeout <= 0 {
		opts.GatherTimeout = defaultGatherTimeout
	}
	if len(opts.Capabilities.Codecs) == 0 {
		opts.Capabilities = engine.DefaultCapabilities()
	}
	cfg := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}
	return &Engine{
		opts:     opts,
		pcConfig: cfg,
		routers:  make(map[string]*Router),
		done:     make(chan struct{}),
	}
}

func (e *Engine) CreateRouter(ctx context.Context, conferenceID domain.ConferenceID) (engine.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrFatal, err)
	}

	me := &webrtc.MediaEngine{}
	if err := registerCodecs(me, e.opts.Capabilities); err != nil {
		// Same codecs for every router: nothing will ever succeed.
		e.Fail(err)
		return nil, fmt.Errorf("%w: %v", core.ErrFatal, err)
	}
	se := webrtc.SettingEngine{LoggerFactory: newLoggerFactory(e.opts.LogLevel)}
	if e.opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	rctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		id:         uuid.NewString(),
		conference: conferenceID,
		engine:     e,
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)),
		caps:       e.opts.Capabilities,
		relays:     sfu.NewRelayManager(rctx),
		cancel:     cancel,
		producers:  make(map[string]*Producer),
		transports: make(map[string]*Transport),
	}

	e.mu.Lock()
	e.routers[r.id] = r
	e.mu.Unlock()
	log.Info().Str("module", "webrtc").Str("router", r.id).Str("room", string(conferenceID)).Msg("router created")
	return r, nil
}

func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Fail marks the engine unusable.
func (e *Engine) Fail(err error) {
	e.failOnce.Do(func() {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		log.Error().Str("module", "webrtc").Err(err).Msg("engine failed")
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

func (e *Engine) removeRouter(id string) {
	e.mu.Lock()
	delete(e.routers, id)
	e.mu.Unlock()
}

func rtpCodecType(k domain.MediaKind) webrtc.RTPCodecType {
	if k == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

const h264Fmtp = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"

func capability(c domain.Codec) webrtc.RTPCodecCapability {
	rc := webrtc.RTPCodecCapability{MimeType: c.MimeType, ClockRate: c.ClockRate, Channels: c.Channels}
	if strings.EqualFold(c.MimeType, webrtc.MimeTypeH264) {
		rc.SDPFmtpLine = h264Fmtp
	}
	return rc
}

func registerCodecs(me *webrtc.MediaEngine, caps domain.Capabilities) error {
	audioPT, videoPT := webrtc.PayloadType(111), webrtc.PayloadType(96)
	for _, c := range caps.Codecs {
		var pt webrtc.PayloadType
		switch c.Kind {
		case domain.KindAudio:
			pt = audioPT
			audioPT++
		case domain.KindVideo:
			pt = videoPT
			videoPT++
		default:
			return fmt.Errorf("codec %s: unknown kind %q", c.MimeType, c.Kind)
		}
		params := webrtc.RTPCodecParameters{RTPCodecCapability: capability(c), PayloadType: pt}
		if err := me.RegisterCodec(params, rtpCodecType(c.Kind)); err != nil {
			return fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}
	return nil
}

type Router struct {
	id         string
	conference domain.ConferenceID
	engine     *Engine
	api        *webrtc.API
	caps       domain.Capabilities
	relays     *sfu.RelayManager
	cancel     context.CancelFunc

	mu         sync.Mutex
	producers  map[string]*Producer
	transports map[string]*Transport
	closed     bool
}

func (r *Router) ID() string                        { return r.id }
func (r *Router) Capabilities() domain.Capabilities { return r.caps }

// CanConsume also fails once the producer's source track has ended and its
// relay is gone.
func (r *Router) CanConsume(producerID string, caps domain.Capabilities) bool {
	p, ok := r.producer(producerID)
	if !ok || !r.relays.HasRelay(producerID) {
		return false
	}
	return engine.MatchCodec(p.codec, caps)
}

func (r *Router) CreateTransport(ctx context.Context, dir domain.Direction) (engine.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("router %s: %w", r.id, core.ErrNotFound)
	}

	t, err := newTransport(ctx, r, dir)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.Close()
		return nil, fmt.Errorf("router %s: %w", r.id, core.ErrNotFound)
	}
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.relays.StopAll()
	r.cancel()
	r.engine.removeRouter(r.id)
	log.Info().Str("module", "webrtc").Str("router", r.id).Msg("router closed")
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
	r.relays.Open(p.id)
	return nil
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
	r.relays.StopRelay(id)
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}
