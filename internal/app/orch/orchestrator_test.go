package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/engine"
	"github.com/dkeye/huddle/internal/engine/memory"
	"github.com/dkeye/huddle/internal/engine/mock"
	"github.com/dkeye/huddle/internal/protocol"
)

type recSignal struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	full   bool
}

func (s *recSignal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return core.ErrBackpressure
	}
	env, err := protocol.Decode(f)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, env)
	return nil
}

func (s *recSignal) Close() {}

func (s *recSignal) events(t protocol.Type) []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Envelope
	for _, e := range s.frames {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *recSignal) types() []protocol.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Type, 0, len(s.frames))
	for _, e := range s.frames {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	t      *testing.T
	engine *memory.Engine
	orch   *Orchestrator
}

func newHarness(t *testing.T) *harness {
	e := memory.New()
	return &harness{t: t, engine: e, orch: New(app.NewRegistry(), app.NewRoomManager(e), app.SimplePolicy{})}
}

type client struct {
	sid    core.SessionID
	sig    *recSignal
	cancel context.CancelFunc
	ctx    context.Context
}

func (h *harness) connect(name string) *client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{sid: core.SessionID("sid-" + name), sig: &recSignal{}, cancel: cancel, ctx: ctx}
	h.orch.Registry.BindSignal(c.sid, domain.ParticipantID(name), c.sig, cancel)
	return c
}

func (h *harness) join(c *client, conf domain.ConferenceID, role domain.Role) protocol.JoinRoomResponse {
	h.t.Helper()
	resp, err := h.orch.Join(context.Background(), c.sid, protocol.JoinRoomRequest{ConferenceID: conf, Role: role})
	require.NoError(h.t, err)
	h.orch.AfterJoin(c.sid, resp)
	return resp
}

func (h *harness) transport(c *client, dir domain.Direction) string {
	h.t.Helper()
	ctx := context.Background()
	desc, err := h.orch.CreateTransport(ctx, c.sid, dir)
	require.NoError(h.t, err)
	_, err = h.orch.ConnectTransport(ctx, c.sid, desc.ID, json.RawMessage(`{"dtls":"x"}`))
	require.NoError(h.t, err)
	return desc.ID
}

func (h *harness) produce(c *client, transportID string, kind domain.MediaKind) string {
	h.t.Helper()
	id, err := h.orch.Produce(context.Background(), c.sid, transportID, kind, domain.MediaParams{})
	require.NoError(h.t, err)
	return id
}

func decode[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, env.DecodeData(&v))
	return v
}

func TestJoinProduceConsumeScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.connect("alice"), h.connect("bob")

	h.join(a, "r", domain.RoleParticipant)
	sendA := h.transport(a, domain.DirectionSend)
	video := h.produce(a, sendA, domain.KindVideo)

	resp := h.join(b, "r", domain.RoleParticipant)
	assert.Equal(t, domain.ParticipantID("bob"), resp.ParticipantID)
	assert.True(t, resp.SendAllowed)
	assert.Equal(t, []domain.ProducerInfo{{ProducerID: video, OwnerID: "alice", Kind: domain.KindVideo}}, resp.ExistingProducers)
	assert.NotEmpty(t, resp.Capabilities.Codecs)

	joined := a.sig.events(protocol.TypePeerJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, domain.ParticipantID("bob"), decode[protocol.PeerJoined](t, joined[0]).UserID)
	assert.Empty(t, b.sig.events(protocol.TypeStreamAvailable), "join snapshot replaces live events")

	recvB := h.transport(b, domain.DirectionRecv)
	desc, err := h.orch.Consume(ctx, b.sid, recvB, video, resp.Capabilities)
	require.NoError(t, err)
	assert.True(t, desc.Paused)
	assert.Equal(t, domain.ParticipantID("alice"), desc.OwnerID)
	assert.Equal(t, domain.KindVideo, desc.Kind)

	again, err := h.orch.Consume(ctx, b.sid, recvB, video, resp.Capabilities)
	require.NoError(t, err)
	assert.Equal(t, desc.ID, again.ID)

	require.NoError(t, h.orch.ResumeConsumer(ctx, b.sid, desc.ID))
	require.NoError(t, h.orch.ResumeConsumer(ctx, b.sid, desc.ID))
	again, err = h.orch.Consume(ctx, b.sid, recvB, video, resp.Capabilities)
	require.NoError(t, err)
	assert.False(t, again.Paused)

	audio := h.produce(a, sendA, domain.KindAudio)
	avail := b.sig.events(protocol.TypeStreamAvailable)
	require.Len(t, avail, 1)
	assert.Equal(t, protocol.StreamAvailable{ProducerID: audio, UserID: "alice", Kind: domain.KindAudio}, decode[protocol.StreamAvailable](t, avail[0]))
	assert.Empty(t, a.sig.events(protocol.TypeStreamAvailable))
}

func TestLastLeaveReleasesRoom(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("alice"), h.connect("bob")
	h.join(a, "r", domain.RoleParticipant)
	h.join(b, "r", domain.RoleParticipant)
	assert.Equal(t, 1, h.engine.RouterCount())

	h.orch.Leave(a.sid)
	assert.Len(t, b.sig.events(protocol.TypePeerLeft), 1)
	assert.Equal(t, 1, h.engine.RouterCount())

	h.orch.Leave(b.sid)
	h.orch.Leave(b.sid)
	assert.Equal(t, 0, h.engine.RouterCount())
	assert.Empty(t, h.orch.ListRooms())

	resp := h.join(a, "r", domain.RoleParticipant)
	assert.Empty(t, resp.ExistingProducers)
	assert.Equal(t, 1, h.engine.RouterCount())
	assert.Equal(t, []domain.RoomInfo{{ConferenceID: "r", PeerCount: 1}}, h.orch.ListRooms())
}

func TestDisconnectClosesEverythingOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.connect("alice"), h.connect("bob")
	h.join(a, "r", domain.RoleParticipant)
	resp := h.join(b, "r", domain.RoleParticipant)

	sendA := h.transport(a, domain.DirectionSend)
	video := h.produce(a, sendA, domain.KindVideo)
	recvB := h.transport(b, domain.DirectionRecv)
	_, err := h.orch.Consume(ctx, b.sid, recvB, video, resp.Capabilities)
	require.NoError(t, err)

	h.orch.OnDisconnect(a.sid)
	h.orch.OnDisconnect(a.sid)

	closed := b.sig.events(protocol.TypeStreamClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, video, decode[protocol.StreamClosed](t, closed[0]).ProducerID)
	assert.Len(t, b.sig.events(protocol.TypePeerLeft), 1)

	_, err = h.orch.Consume(ctx, b.sid, recvB, video, resp.Capabilities)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 1, h.orch.Registry.Len())
}

func TestDuplicateJoinReplacesSession(t *testing.T) {
	h := newHarness(t)
	a1, b := h.connect("alice"), h.connect("bob")
	h.join(a1, "r", domain.RoleParticipant)
	h.join(b, "r", domain.RoleParticipant)
	sendA := h.transport(a1, domain.DirectionSend)
	video := h.produce(a1, sendA, domain.KindVideo)

	a2 := h.connect("alice-2")
	resp, err := h.orch.Join(context.Background(), a2.sid, protocol.JoinRoomRequest{ConferenceID: "r", ParticipantID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, resp.ExistingProducers, "bob produces nothing")

	assert.Equal(t, []protocol.Type{
		protocol.TypeConferenceCreated,
		protocol.TypeStreamAvailable,
		protocol.TypeStreamClosed,
		protocol.TypePeerLeft,
		protocol.TypePeerJoined,
	}, b.sig.types())
	assert.Equal(t, video, decode[protocol.StreamClosed](t, b.sig.events(protocol.TypeStreamClosed)[0]).ProducerID)

	_, _, ok := h.orch.Registry.RoomOf(a1.sid)
	assert.False(t, ok)
	_, err = h.orch.CreateTransport(context.Background(), a1.sid, domain.DirectionSend)
	assert.ErrorIs(t, err, core.ErrProtocol)

	// The stale connection leaving must not evict the new session.
	h.orch.OnDisconnect(a1.sid)
	assert.Equal(t, []domain.RoomInfo{{ConferenceID: "r", PeerCount: 2}}, h.orch.ListRooms())
}

func TestJoinOtherConferenceLeavesFirst(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("alice"), h.connect("bob")
	h.join(a, "one", domain.RoleParticipant)
	h.join(b, "one", domain.RoleParticipant)
	h.join(a, "two", domain.RoleParticipant)

	assert.Len(t, b.sig.events(protocol.TypePeerLeft), 1)
	assert.Equal(t, []domain.RoomInfo{
		{ConferenceID: "one", PeerCount: 1},
		{ConferenceID: "two", PeerCount: 1},
	}, h.orch.ListRooms())
}

func TestViewerGetsFallbackAndCannotSend(t *testing.T) {
	h := newHarness(t)
	v := h.connect("viewer")
	resp := h.join(v, "r", domain.RoleViewer)
	assert.False(t, resp.SendAllowed)

	fb := v.sig.events(protocol.TypeFallbackDelivery)
	require.Len(t, fb, 1)
	assert.NotEmpty(t, decode[protocol.FallbackDelivery](t, fb[0]).Reason)

	_, err := h.orch.CreateTransport(context.Background(), v.sid, domain.DirectionSend)
	assert.ErrorIs(t, err, core.ErrForbidden)
	assert.ErrorIs(t, err, core.ErrProtocol)

	recv := h.transport(v, domain.DirectionRecv)
	_, err = h.orch.Produce(context.Background(), v.sid, recv, domain.KindAudio, domain.MediaParams{})
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestConnectTransport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect("alice")
	h.join(a, "r", domain.RoleParticipant)

	_, err := h.orch.ConnectTransport(ctx, a.sid, "nope", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)

	desc, err := h.orch.CreateTransport(ctx, a.sid, domain.DirectionSend)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionSend, desc.Direction)
	assert.NotEmpty(t, desc.Params)

	_, err = h.orch.Produce(ctx, a.sid, desc.ID, domain.KindAudio, domain.MediaParams{})
	assert.ErrorIs(t, err, core.ErrProtocol, "produce before connect")

	params := json.RawMessage(`{"fingerprint":"aa"}`)
	_, err = h.orch.ConnectTransport(ctx, a.sid, desc.ID, params)
	require.NoError(t, err)
	_, err = h.orch.ConnectTransport(ctx, a.sid, desc.ID, params)
	require.NoError(t, err)
	_, err = h.orch.ConnectTransport(ctx, a.sid, desc.ID, json.RawMessage(`{"fingerprint":"bb"}`))
	assert.ErrorIs(t, err, core.ErrProtocol)
}

func TestRequestsBeforeJoin(t *testing.T) {
	h := newHarness(t)
	a := h.connect("alice")
	_, err := h.orch.CreateTransport(context.Background(), a.sid, domain.DirectionRecv)
	assert.ErrorIs(t, err, core.ErrProtocol)
	assert.ErrorIs(t, h.orch.ResumeConsumer(context.Background(), a.sid, "c"), core.ErrProtocol)

	_, err = h.orch.Join(context.Background(), "unknown", protocol.JoinRoomRequest{ConferenceID: "r"})
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = h.orch.Join(context.Background(), a.sid, protocol.JoinRoomRequest{ConferenceID: " r"})
	assert.ErrorIs(t, err, core.ErrProtocol)
	_, err = h.orch.Join(context.Background(), a.sid, protocol.JoinRoomRequest{ConferenceID: "r", Role: "admin"})
	assert.ErrorIs(t, err, core.ErrProtocol)
}

func TestProduceAndConsumeErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.connect("alice"), h.connect("bob")
	h.join(a, "r", domain.RoleParticipant)
	h.join(b, "r", domain.RoleParticipant)
	sendA := h.transport(a, domain.DirectionSend)
	recvA := h.transport(a, domain.DirectionRecv)
	recvB := h.transport(b, domain.DirectionRecv)

	_, err := h.orch.Produce(ctx, a.sid, "missing", domain.KindAudio, domain.MediaParams{})
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = h.orch.Produce(ctx, a.sid, recvA, domain.KindAudio, domain.MediaParams{})
	assert.ErrorIs(t, err, core.ErrProtocol)

	audio := h.produce(a, sendA, domain.KindAudio)
	caps := engine.DefaultCapabilities()

	_, err = h.orch.Consume(ctx, a.sid, recvA, audio, caps)
	assert.ErrorIs(t, err, core.ErrProtocol, "own producer")
	_, err = h.orch.Consume(ctx, b.sid, recvB, "ghost", caps)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = h.orch.Consume(ctx, a.sid, sendA, audio, caps)
	assert.ErrorIs(t, err, core.ErrProtocol)

	videoOnly := domain.Capabilities{Codecs: []domain.Codec{{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000}}}
	_, err = h.orch.Consume(ctx, b.sid, recvB, audio, videoOnly)
	assert.ErrorIs(t, err, core.ErrCapabilityMismatch)
	assert.Equal(t, protocol.CodeCapabilityMismatch, protocol.ErrorFrom(err).Code)

	assert.ErrorIs(t, h.orch.ResumeConsumer(ctx, b.sid, "ghost"), core.ErrNotFound)
	assert.ErrorIs(t, h.orch.CloseProducer(ctx, b.sid, audio), core.ErrNotFound, "only the owner closes")
}

func TestCloseProducerClosesConsumers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b, c := h.connect("alice"), h.connect("bob"), h.connect("carol")
	h.join(a, "r", domain.RoleParticipant)
	caps := h.join(b, "r", domain.RoleParticipant).Capabilities
	h.join(c, "r", domain.RoleParticipant)

	sendA := h.transport(a, domain.DirectionSend)
	video := h.produce(a, sendA, domain.KindVideo)
	audio := h.produce(a, sendA, domain.KindAudio)
	recvB := h.transport(b, domain.DirectionRecv)
	vc, err := h.orch.Consume(ctx, b.sid, recvB, video, caps)
	require.NoError(t, err)
	ac, err := h.orch.Consume(ctx, b.sid, recvB, audio, caps)
	require.NoError(t, err)

	require.NoError(t, h.orch.CloseProducer(ctx, a.sid, video))
	assert.ErrorIs(t, h.orch.CloseProducer(ctx, a.sid, video), core.ErrNotFound)

	for _, cl := range []*client{b, c} {
		closed := cl.sig.events(protocol.TypeStreamClosed)
		require.Len(t, closed, 1)
		assert.Equal(t, protocol.StreamClosed{ProducerID: video, UserID: "alice", Kind: domain.KindVideo}, decode[protocol.StreamClosed](t, closed[0]))
	}
	assert.Empty(t, a.sig.events(protocol.TypeStreamClosed))

	assert.ErrorIs(t, h.orch.ResumeConsumer(ctx, b.sid, vc.ID), core.ErrNotFound)
	require.NoError(t, h.orch.ResumeConsumer(ctx, b.sid, ac.ID), "audio is untouched")
	_, err = h.orch.Consume(ctx, b.sid, recvB, video, caps)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTransportClosedByEngine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.connect("alice"), h.connect("bob")
	h.join(a, "r", domain.RoleParticipant)
	caps := h.join(b, "r", domain.RoleParticipant).Capabilities

	desc, err := h.orch.CreateTransport(ctx, a.sid, domain.DirectionSend)
	require.NoError(t, err)
	_, err = h.orch.ConnectTransport(ctx, a.sid, desc.ID, nil)
	require.NoError(t, err)
	video := h.produce(a, desc.ID, domain.KindVideo)
	recvB := h.transport(b, domain.DirectionRecv)
	_, err = h.orch.Consume(ctx, b.sid, recvB, video, caps)
	require.NoError(t, err)

	et := findEngineTransport(t, h, a, desc.ID)
	et.SetState(domain.TransportDisconnected)
	et.SetState(domain.TransportFailed)

	require.Eventually(t, func() bool {
		return len(b.sig.events(protocol.TypeStreamClosed)) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = h.orch.Produce(ctx, a.sid, desc.ID, domain.KindAudio, domain.MediaParams{})
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = h.orch.Consume(ctx, b.sid, recvB, video, caps)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, b.sig.events(protocol.TypePeerLeft))
}

func TestStaleTransportCallbackIgnored(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("alice"), h.connect("bob")
	h.join(a, "r", domain.RoleParticipant)
	h.join(b, "r", domain.RoleParticipant)
	sendA := h.transport(a, domain.DirectionSend)
	h.produce(a, sendA, domain.KindAudio)
	et := findEngineTransport(t, h, a, sendA)

	h.orch.OnDisconnect(a.sid)
	et.SetState(domain.TransportClosed)
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, b.sig.events(protocol.TypeStreamClosed), 1)
	assert.Len(t, b.sig.events(protocol.TypePeerLeft), 1)
}

func findEngineTransport(t *testing.T, h *harness, c *client, id string) *memory.Transport {
	t.Helper()
	room, peer, err := h.orch.peerRoom(c.sid)
	require.NoError(t, err)
	defer room.Unlock()
	tr, ok := peer.Transport(id)
	require.True(t, ok)
	return tr.Engine.(*memory.Transport)
}

func TestConferenceCreatedReachesOutsiders(t *testing.T) {
	h := newHarness(t)
	a, b, idle := h.connect("alice"), h.connect("bob"), h.connect("idle")
	h.join(a, "one", domain.RoleParticipant)
	h.join(b, "two", domain.RoleParticipant)

	created := idle.sig.events(protocol.TypeConferenceCreated)
	require.Len(t, created, 2)
	assert.Equal(t, domain.ConferenceID("one"), decode[protocol.ConferenceCreated](t, created[0]).ConferenceID)
	assert.Len(t, a.sig.events(protocol.TypeConferenceCreated), 1, "alice hears about two")
	require.Len(t, b.sig.events(protocol.TypeConferenceCreated), 1, "bob hears about one only")
	assert.Equal(t, domain.ConferenceID("one"), decode[protocol.ConferenceCreated](t, b.sig.events(protocol.TypeConferenceCreated)[0]).ConferenceID)

	h.join(idle, "two", domain.RoleParticipant)
	assert.Len(t, a.sig.events(protocol.TypeConferenceCreated), 1, "joining an existing room announces nothing")
}

func TestBackpressureKicksSlowMember(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("alice"), h.connect("bob")
	h.join(a, "r", domain.RoleParticipant)
	h.join(b, "r", domain.RoleParticipant)

	b.sig.mu.Lock()
	b.sig.full = true
	b.sig.mu.Unlock()

	sendA := h.transport(a, domain.DirectionSend)
	h.produce(a, sendA, domain.KindAudio)
	assert.Error(t, b.ctx.Err(), "slow member is cancelled")
	assert.NoError(t, a.ctx.Err())
}

func TestConcurrentJoinsShareOneRouter(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	clients := make([]*client, 16)
	for i := range clients {
		clients[i] = h.connect(fmt.Sprintf("p%02d", i))
	}
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Join(context.Background(), c.sid, protocol.JoinRoomRequest{ConferenceID: "busy"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h.engine.RouterCount())
	assert.Equal(t, []domain.RoomInfo{{ConferenceID: "busy", PeerCount: 16}}, h.orch.ListRooms())

	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.OnDisconnect(c.sid)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.engine.RouterCount())
	assert.Equal(t, 0, h.orch.Rooms.Len())
}

func TestRouterFailureLeavesNoRoom(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := mock.NewMockEngine(ctrl)
	e.EXPECT().CreateRouter(gomock.Any(), domain.ConferenceID("r")).Return(nil, errors.New("engine busy"))

	o := New(app.NewRegistry(), app.NewRoomManager(e), app.SimplePolicy{})
	o.Registry.BindSignal("s1", "alice", &recSignal{}, nil)

	_, err := o.Join(context.Background(), "s1", protocol.JoinRoomRequest{ConferenceID: "r"})
	require.Error(t, err)
	assert.Equal(t, protocol.CodeInternal, protocol.ErrorFrom(err).Code)
	assert.Equal(t, 0, o.Rooms.Len())
	_, _, ok := o.Registry.RoomOf("s1")
	assert.False(t, ok)

	select {
	case <-o.Fatal():
		t.Fatal("non-fatal engine error reported as fatal")
	default:
	}
}

func TestFatalEngineErrorIsSignalled(t *testing.T) {
	h := newHarness(t)
	h.engine.Fail(errors.New("worker died"))
	a := h.connect("alice")

	_, err := h.orch.Join(context.Background(), a.sid, protocol.JoinRoomRequest{ConferenceID: "r"})
	require.ErrorIs(t, err, core.ErrFatal)

	select {
	case ferr := <-h.orch.Fatal():
		assert.ErrorIs(t, ferr, core.ErrFatal)
	case <-time.After(time.Second):
		t.Fatal("fatal not signalled")
	}
}

func TestPauseAndResumeConsumer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.connect("alice"), h.connect("bob")
	h.join(a, "r", domain.RoleParticipant)
	resp := h.join(b, "r", domain.RoleParticipant)
	video := h.produce(a, h.transport(a, domain.DirectionSend), domain.KindVideo)
	recvB := h.transport(b, domain.DirectionRecv)

	desc, err := h.orch.Consume(ctx, b.sid, recvB, video, resp.Capabilities)
	require.NoError(t, err)
	require.NoError(t, h.orch.ResumeConsumer(ctx, b.sid, desc.ID))

	require.NoError(t, h.orch.PauseConsumer(ctx, b.sid, desc.ID))
	require.NoError(t, h.orch.PauseConsumer(ctx, b.sid, desc.ID), "pausing twice is a no-op")
	again, err := h.orch.Consume(ctx, b.sid, recvB, video, resp.Capabilities)
	require.NoError(t, err)
	assert.True(t, again.Paused)

	require.NoError(t, h.orch.ResumeConsumer(ctx, b.sid, desc.ID))
	again, err = h.orch.Consume(ctx, b.sid, recvB, video, resp.Capabilities)
	require.NoError(t, err)
	assert.False(t, again.Paused)

	assert.ErrorIs(t, h.orch.PauseConsumer(ctx, b.sid, "ghost"), core.ErrNotFound)
	assert.ErrorIs(t, h.orch.PauseConsumer(ctx, h.connect("carol").sid, desc.ID), core.ErrProtocol, "not in a room")
}
