package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/engine"
)

// Transport is one PeerConnection. A send transport answers the client's
// offer and turns incoming tracks into producers. A receive transport offers
// a fixed set of send-only slots that consumers are attached to.
type Transport struct {
	id     string
	dir    domain.Direction
	router *Router
	pc     *webrtc.PeerConnection
	offer  *webrtc.SessionDescription

	mu        sync.Mutex
	onState   func(domain.TransportState)
	closed    bool
	producers map[string]*Producer
	// tracks that arrived before their produce request, by track id
	orphans []*webrtc.TrackRemote
	slots   []*slot
}

type slot struct {
	kind        domain.MediaKind
	transceiver *webrtc.RTPTransceiver
	consumer    *Consumer
}

type transportParams struct {
	TransportID string                     `json:"transportId"`
	Direction   domain.Direction           `json:"direction"`
	ICEServers  []webrtc.ICEServer         `json:"iceServers,omitempty"`
	Offer       *webrtc.SessionDescription `json:"offer,omitempty"`
}

func newTransport(ctx context.Context, r *Router, dir domain.Direction) (*Transport, error) {
	pc, err := r.api.NewPeerConnection(r.engine.pcConfig)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	t := &Transport{
		id:        uuid.NewString(),
		dir:       dir,
		router:    r,
		pc:        pc,
		producers: make(map[string]*Producer),
	}
	t.start()

	if dir == domain.DirectionRecv {
		if err := t.addSlots(r.engine.opts.ReceiveSlots); err != nil {
			_ = pc.Close()
			return nil, err
		}
		offer, err := t.createOffer(ctx)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		t.offer = offer
	}
	log.Debug().Str("module", "webrtc").Str("transport", t.id).Str("direction", string(dir)).Msg("peer connection created")
	return t, nil
}

func (t *Transport) start() {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("transport", t.id).Str("peer_connection_state", s.String()).Msg("Peer state")
		state, ok := mapState(s)
		if !ok {
			return
		}
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})

	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("transport", t.id).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		t.attachTrack(track)
	})
}

func mapState(s webrtc.PeerConnectionState) (domain.TransportState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.TransportNew, true
	case webrtc.PeerConnectionStateConnecting:
		return domain.TransportConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return domain.TransportConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.TransportDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.TransportFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.TransportClosed, true
	}
	return "", false
}

func (t *Transport) addSlots(n int) error {
	for _, kind := range []domain.MediaKind{domain.KindAudio, domain.KindVideo} {
		for range n {
			tr, err := t.pc.AddTransceiverFromKind(rtpCodecType(kind), webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionSendonly,
			})
			if err != nil {
				return fmt.Errorf("add %s slot: %w", kind, err)
			}
			go drainRTCP(tr.Sender())
			t.slots = append(t.slots, &slot{kind: kind, transceiver: tr})
		}
	}
	return nil
}

// drainRTCP keeps the sender's RTCP reader moving so interceptors don't stall.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *Transport) createOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	if err := t.awaitGathering(ctx, gatherComplete); err != nil {
		return nil, err
	}
	return t.pc.LocalDescription(), nil
}

// awaitGathering waits for ICE gathering for at most GatherTimeout. Callers
// hold the room lock. On timeout the local description carries the candidates
// gathered so far.
func (t *Transport) awaitGathering(ctx context.Context, done <-chan struct{}) error {
	timer := time.NewTimer(t.router.engine.opts.GatherTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warn().Str("module", "webrtc").Str("transport", t.id).Dur("timeout", t.router.engine.opts.GatherTimeout).Msg("ice gathering incomplete, sending partial candidates")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (t *Transport) ID() string                  { return t.id }
func (t *Transport) Direction() domain.Direction { return t.dir }

func (t *Transport) Params() json.RawMessage {
	b, _ := json.Marshal(transportParams{
		TransportID: t.id,
		Direction:   t.dir,
		ICEServers:  t.router.engine.pcConfig.ICEServers,
		Offer:       t.offer,
	})
	return b
}

// Connect takes the client's session description. An offer (send transport)
// is answered; an answer (receive transport) completes the server's offer.
func (t *Transport) Connect(ctx context.Context, remote json.RawMessage) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(remote, &desc); err != nil {
		return nil, fmt.Errorf("%w: session description: %v", core.ErrProtocol, err)
	}
	if t.isClosed() {
		return nil, fmt.Errorf("transport %s: %w", t.id, core.ErrNotFound)
	}

	switch {
	case desc.Type == webrtc.SDPTypeOffer && t.dir == domain.DirectionSend:
		answer, err := t.applyOfferAndCreateAnswer(ctx, desc)
		if err != nil {
			return nil, err
		}
		return json.Marshal(answer)
	case desc.Type == webrtc.SDPTypeAnswer && t.dir == domain.DirectionRecv:
		if err := t.pc.SetRemoteDescription(desc); err != nil {
			return nil, fmt.Errorf("%w: set remote answer: %v", core.ErrProtocol, err)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s transport cannot take an %s", core.ErrProtocol, t.dir, desc.Type)
}

func (t *Transport) applyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: set remote offer: %v", core.ErrProtocol, err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	if err := t.awaitGathering(ctx, gatherComplete); err != nil {
		return nil, err
	}
	return t.pc.LocalDescription(), nil
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
	p := &Producer{id: uuid.NewString(), kind: kind, codec: codec, trackID: params.TrackID, transport: t}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport %s: %w", t.id, core.ErrNotFound)
	}
	t.producers[p.id] = p
	orphan := t.takeOrphan(p)
	t.mu.Unlock()

	if err := t.router.addProducer(p); err != nil {
		t.forgetProducer(p.id)
		return nil, err
	}
	if orphan != nil {
		t.startRelay(p, orphan)
	}
	return p, nil
}

// takeOrphan pops an already-arrived track that belongs to p. Caller holds t.mu.
func (t *Transport) takeOrphan(p *Producer) *webrtc.TrackRemote {
	for i, tr := range t.orphans {
		if p.matches(tr) {
			t.orphans = append(t.orphans[:i], t.orphans[i+1:]...)
			p.bound = true
			return tr
		}
	}
	return nil
}

func (t *Transport) attachTrack(track *webrtc.TrackRemote) {
	t.mu.Lock()
	var owner *Producer
	for _, p := range t.producers {
		if !p.bound && p.matches(track) {
			p.bound = true
			owner = p
			break
		}
	}
	if owner == nil {
		t.orphans = append(t.orphans, track)
	}
	t.mu.Unlock()
	if owner != nil {
		t.startRelay(owner, track)
	}
}

func (t *Transport) startRelay(p *Producer, track *webrtc.TrackRemote) {
	src := func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	}
	t.router.relays.StartRelay(p.id, src)
}

func (t *Transport) forgetProducer(id string) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

var errNoSlot = errors.New("no free receive slot")

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

	c := &Consumer{id: uuid.NewString(), producer: p, transport: t}
	local, err := webrtc.NewTrackLocalStaticRTP(capability(p.codec), c.id, producerID)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	c.out = newConsumerTrack(local)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport %s: %w", t.id, core.ErrNotFound)
	}
	s := t.freeSlot(p.kind)
	if s == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: %v", core.ErrProtocol, p.kind, errNoSlot)
	}
	s.consumer = c
	c.slot = s
	t.mu.Unlock()

	if err := s.transceiver.Sender().ReplaceTrack(local); err != nil {
		t.releaseSlot(s)
		return nil, fmt.Errorf("attach consumer track: %w", err)
	}
	if !t.router.relays.AddSubscriber(producerID, c.id, c.out) {
		t.releaseSlot(s)
		return nil, fmt.Errorf("producer %s: %w", producerID, core.ErrNotFound)
	}
	return c, nil
}

// freeSlot returns an unused slot of kind. Caller holds t.mu.
func (t *Transport) freeSlot(kind domain.MediaKind) *slot {
	for _, s := range t.slots {
		if s.kind == kind && s.consumer == nil {
			return s
		}
	}
	return nil
}

// releaseSlot frees s for the next consumer. The old local track stays on the
// sender: nothing writes to it any more, and a sender without a track cannot
// start once negotiation completes.
func (t *Transport) releaseSlot(s *slot) {
	t.mu.Lock()
	s.consumer = nil
	t.mu.Unlock()
}

func (t *Transport) OnStateChange(fn func(domain.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	var consumers []*Consumer
	for _, s := range t.slots {
		if s.consumer != nil {
			consumers = append(consumers, s.consumer)
		}
	}
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("transport", t.id).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("transport", t.id).Msg("closed")
	}
	t.router.removeTransport(t.id)
}
