package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
)

const DefaultActivationTimeout = 3 * time.Second

type ReconcilerOptions struct {
	// ActivationTimeout bounds how long an attached track may stay muted
	// before it is surfaced anyway.
	ActivationTimeout time.Duration

	OnStreamActive  func(StreamInfo)
	OnStreamRemoved func(StreamInfo)
	OnFallback      func(reason string)
	// OnError receives failed consumes other than capability mismatches.
	OnError func(error)
}

type itemKind int

const (
	itemReady itemKind = iota
	itemAvailable
	itemClosed
	itemLeft
	itemFallback
)

type item struct {
	kind   itemKind
	info   domain.ProducerInfo
	user   domain.ParticipantID
	reason string
}

// attachment is the idempotency entry for one producer. track is nil while
// the consume round trip is in flight.
type attachment struct {
	info  domain.ProducerInfo
	track *RemoteTrack
}

// Reconciler applies room events to the local media pipeline. Events are
// processed one at a time by Run, in arrival order. Stream-available events
// that arrive before Prepare finishes wait in a PendingQueue, which is drained
// before anything that arrives later.
type Reconciler struct {
	sig  Signaler
	dev  Device
	opts ReconcilerOptions

	wake chan struct{}
	stop chan struct{}

	mu         sync.Mutex
	inbox      []item
	ready      bool
	closed     bool
	caps       domain.Capabilities
	recv       RecvTransport
	pending    PendingQueue
	consumed   map[string]*attachment
	aggregates map[domain.ParticipantID]*Aggregate
}

func NewReconciler(sig Signaler, dev Device, opts ReconcilerOptions) *Reconciler {
	if opts.ActivationTimeout <= 0 {
		opts.ActivationTimeout = DefaultActivationTimeout
	}
	return &Reconciler{
		sig:        sig,
		dev:        dev,
		opts:       opts,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		consumed:   make(map[string]*attachment),
		aggregates: make(map[domain.ParticipantID]*Aggregate),
	}
}

// Push queues a server event. It never blocks, so it can run on the
// connection's read goroutine.
func (r *Reconciler) Push(env protocol.Envelope) {
	l := log.With().Str("module", "client").Str("event", string(env.Type)).Logger()
	var it item
	switch env.Type {
	case protocol.TypeStreamAvailable:
		var ev protocol.StreamAvailable
		if err := env.DecodeData(&ev); err != nil {
			l.Warn().Err(err).Msg("bad event")
			return
		}
		it = item{kind: itemAvailable, info: domain.ProducerInfo{ProducerID: ev.ProducerID, OwnerID: ev.UserID, Kind: ev.Kind}}
	case protocol.TypeStreamClosed:
		var ev protocol.StreamClosed
		if err := env.DecodeData(&ev); err != nil {
			l.Warn().Err(err).Msg("bad event")
			return
		}
		it = item{kind: itemClosed, info: domain.ProducerInfo{ProducerID: ev.ProducerID, OwnerID: ev.UserID, Kind: ev.Kind}}
	case protocol.TypePeerLeft:
		var ev protocol.PeerLeft
		if err := env.DecodeData(&ev); err != nil {
			l.Warn().Err(err).Msg("bad event")
			return
		}
		it = item{kind: itemLeft, user: ev.UserID}
	case protocol.TypeFallbackDelivery:
		var ev protocol.FallbackDelivery
		_ = env.DecodeData(&ev)
		it = item{kind: itemFallback, reason: ev.Reason}
	default:
		// peer-joined never triggers a consume; streams come from
		// stream-available only.
		l.Debug().Msg("event ignored")
		return
	}
	r.enqueue(it)
}

// Seed queues the producers listed in a join response. They go through the
// same idempotency check as live events.
func (r *Reconciler) Seed(existing []domain.ProducerInfo) {
	for _, info := range existing {
		r.enqueue(item{kind: itemAvailable, info: info})
	}
}

func (r *Reconciler) enqueue(it item) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.inbox = append(r.inbox, it)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reconciler) next() (item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inbox) == 0 || r.closed {
		return item{}, false
	}
	it := r.inbox[0]
	r.inbox[0] = item{}
	r.inbox = r.inbox[1:]
	return it, true
}

// Run processes events until ctx ends or Close is called.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		for {
			it, ok := r.next()
			if !ok {
				break
			}
			r.process(ctx, it)
		}
		select {
		case <-r.wake:
		case <-r.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reconciler) process(ctx context.Context, it item) {
	switch it.kind {
	case itemReady:
		r.drain(ctx)
	case itemAvailable:
		r.streamAvailable(ctx, it.info)
	case itemClosed:
		r.streamClosed(it.info.ProducerID)
	case itemLeft:
		r.peerLeft(it.user)
	case itemFallback:
		log.Info().Str("module", "client").Str("reason", it.reason).Msg("fallback delivery requested")
		if r.opts.OnFallback != nil {
			r.opts.OnFallback(it.reason)
		}
	}
}

// Prepare negotiates capabilities and creates and connects the receive
// transport. Queued stream-available events are consumed once it succeeds.
func (r *Reconciler) Prepare(ctx context.Context, router domain.Capabilities) error {
	caps, err := r.dev.Load(ctx, router)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}
	raw, err := r.sig.Request(ctx, protocol.TypeCreateTransport, protocol.CreateTransportRequest{Direction: domain.DirectionRecv})
	if err != nil {
		return fmt.Errorf("create receive transport: %w", err)
	}
	var desc protocol.TransportDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("decode transport: %w", err)
	}
	recv, err := r.dev.CreateRecvTransport(ctx, desc)
	if err != nil {
		return fmt.Errorf("local receive transport: %w", err)
	}
	params, err := recv.ConnectParams(ctx)
	if err != nil {
		recv.Close()
		return fmt.Errorf("receive transport params: %w", err)
	}
	if _, err := r.sig.Request(ctx, protocol.TypeConnectTransport, protocol.ConnectTransportRequest{TransportID: desc.ID, Params: params}); err != nil {
		recv.Close()
		return fmt.Errorf("connect receive transport: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		recv.Close()
		return ErrClosed
	}
	r.caps = caps
	r.recv = recv
	r.mu.Unlock()
	r.enqueue(item{kind: itemReady})
	return nil
}

func (r *Reconciler) drain(ctx context.Context) {
	r.mu.Lock()
	r.ready = true
	queued := r.pending.Drain()
	r.mu.Unlock()

	if len(queued) > 0 {
		log.Debug().Str("module", "client").Int("count", len(queued)).Msg("draining pending streams")
	}
	for _, info := range queued {
		r.streamAvailable(ctx, info)
	}
}

func (r *Reconciler) streamAvailable(ctx context.Context, info domain.ProducerInfo) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, ok := r.consumed[info.ProducerID]; ok {
		r.mu.Unlock()
		return
	}
	if !r.ready {
		r.pending.Push(info)
		r.mu.Unlock()
		return
	}
	att := &attachment{info: info}
	r.consumed[info.ProducerID] = att
	recv, caps := r.recv, r.caps
	r.mu.Unlock()

	r.consume(ctx, att, recv, caps)
}

func (r *Reconciler) forget(att *attachment) {
	r.mu.Lock()
	if r.consumed[att.info.ProducerID] == att {
		delete(r.consumed, att.info.ProducerID)
	}
	r.mu.Unlock()
}

func (r *Reconciler) consume(ctx context.Context, att *attachment, recv RecvTransport, caps domain.Capabilities) {
	l := log.With().Str("module", "client").Str("producer", att.info.ProducerID).Str("owner", string(att.info.OwnerID)).Logger()

	raw, err := r.sig.Request(ctx, protocol.TypeConsume, protocol.ConsumeRequest{
		TransportID:  recv.ID(),
		ProducerID:   att.info.ProducerID,
		Capabilities: caps,
	})
	if err != nil {
		r.forget(att)
		if errors.Is(err, core.ErrCapabilityMismatch) {
			l.Debug().Msg("stale producer skipped")
			return
		}
		r.fail(fmt.Errorf("consume %s: %w", att.info.ProducerID, err))
		return
	}
	var desc protocol.ConsumerDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		r.forget(att)
		r.fail(fmt.Errorf("decode consumer: %w", err))
		return
	}

	track, err := recv.Attach(ctx, desc)
	if err != nil {
		r.forget(att)
		r.fail(fmt.Errorf("attach consumer %s: %w", desc.ID, err))
		return
	}
	rt := newRemoteTrack(att.info, desc.ID, track)

	r.mu.Lock()
	if r.closed || r.consumed[att.info.ProducerID] != att {
		r.mu.Unlock()
		l.Debug().Msg("stream went away during consume")
		track.Stop()
		return
	}
	att.track = rt
	agg, ok := r.aggregates[att.info.OwnerID]
	if !ok {
		agg = newAggregate(att.info.OwnerID)
		r.aggregates[att.info.OwnerID] = agg
	}
	old := agg.Set(rt)
	if old != nil {
		old.release()
		if oa := r.consumed[old.ProducerID]; oa != nil && oa.track == old {
			oa.track = nil
		}
	}
	r.mu.Unlock()

	if old != nil {
		l.Debug().Str("replaced", old.ProducerID).Msg("track replaced")
		r.removed(old)
	}

	if _, err := r.sig.Request(ctx, protocol.TypeResumeConsumer, protocol.ResumeConsumerRequest{ConsumerID: desc.ID}); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			l.Debug().Msg("consumer gone before resume")
		} else {
			r.fail(fmt.Errorf("resume consumer %s: %w", desc.ID, err))
		}
		return
	}
	go r.activate(rt)
}

// activate surfaces rt once its track is live, or after the activation
// timeout if it never is.
func (r *Reconciler) activate(rt *RemoteTrack) {
	timer := time.NewTimer(r.opts.ActivationTimeout)
	defer timer.Stop()

	select {
	case <-rt.Track.Live():
	case <-timer.C:
		log.Warn().Str("module", "client").Str("producer", rt.ProducerID).Msg("track still muted, surfacing anyway")
	case <-rt.done:
		return
	}

	r.mu.Lock()
	select {
	case <-rt.done:
		r.mu.Unlock()
		return
	default:
	}
	rt.active.Store(true)
	r.mu.Unlock()

	if r.opts.OnStreamActive != nil {
		r.opts.OnStreamActive(rt.Info())
	}
}

func (r *Reconciler) streamClosed(producerID string) {
	r.mu.Lock()
	if r.pending.Remove(producerID) {
		r.mu.Unlock()
		return
	}
	att, ok := r.consumed[producerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.consumed, producerID)

	var gone *RemoteTrack
	if agg, ok := r.aggregates[att.info.OwnerID]; ok {
		if t, ok := agg.Remove(producerID); ok {
			t.release()
			gone = t
		}
		if agg.Empty() {
			delete(r.aggregates, att.info.OwnerID)
		}
	}
	r.mu.Unlock()

	if gone != nil {
		r.removed(gone)
	}
}

func (r *Reconciler) peerLeft(user domain.ParticipantID) {
	r.mu.Lock()
	r.pending.RemoveOwner(user)
	for id, att := range r.consumed {
		if att.info.OwnerID == user {
			delete(r.consumed, id)
		}
	}
	var gone []*RemoteTrack
	if agg, ok := r.aggregates[user]; ok {
		gone = agg.Tracks()
		delete(r.aggregates, user)
	}
	for _, t := range gone {
		t.release()
	}
	r.mu.Unlock()

	for _, t := range gone {
		r.removed(t)
	}
}

func (r *Reconciler) removed(t *RemoteTrack) {
	if r.opts.OnStreamRemoved != nil {
		r.opts.OnStreamRemoved(t.Info())
	}
}

func (r *Reconciler) fail(err error) {
	if r.opts.OnError != nil {
		r.opts.OnError(err)
		return
	}
	log.Error().Err(err).Str("module", "client").Msg("reconcile failed")
}

// Close stops every track and the receive transport. Run returns.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var tracks []*RemoteTrack
	for _, agg := range r.aggregates {
		tracks = append(tracks, agg.Tracks()...)
	}
	r.aggregates = make(map[domain.ParticipantID]*Aggregate)
	r.consumed = make(map[string]*attachment)
	r.pending.Drain()
	r.inbox = nil
	recv := r.recv
	for _, t := range tracks {
		t.release()
	}
	r.mu.Unlock()

	close(r.stop)
	if recv != nil {
		recv.Close()
	}
}

func (r *Reconciler) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *Reconciler) PendingLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Len()
}

// Participants lists remote participants with at least one attached track.
func (r *Reconciler) Participants() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(r.aggregates))
	for id := range r.aggregates {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Streams returns the tracks attached for one remote participant.
func (r *Reconciler) Streams(user domain.ParticipantID) []StreamInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg, ok := r.aggregates[user]
	if !ok {
		return nil
	}
	out := make([]StreamInfo, 0, agg.Len())
	for _, t := range agg.Tracks() {
		out = append(out, t.Info())
	}
	return out
}
