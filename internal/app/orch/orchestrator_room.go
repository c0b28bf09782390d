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

const fallbackReasonRole = "role cannot send media"

// Join places the connection's participant into a conference. A live session
// of the same participant is torn down first, as is any room this connection
// is already in.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, req protocol.JoinRoomRequest) (protocol.JoinRoomResponse, error) {
	var resp protocol.JoinRoomResponse
	if err := req.ConferenceID.Validate(); err != nil {
		return resp, fmt.Errorf("%w: %v", core.ErrProtocol, err)
	}
	role, err := domain.ParseRole(string(req.Role))
	if err != nil {
		return resp, fmt.Errorf("%w: %v", core.ErrProtocol, err)
	}
	sig, token, ok := o.Registry.Signal(sid)
	if !ok {
		return resp, fmt.Errorf("session %s: %w", sid, core.ErrNotFound)
	}
	pid := req.ParticipantID
	if pid == "" {
		pid = token
	}
	user, err := domain.NewUser(pid, req.DisplayName)
	if err != nil {
		return resp, fmt.Errorf("%w: %v", core.ErrProtocol, err)
	}

	if _, _, joined := o.Registry.RoomOf(sid); joined {
		o.Leave(sid)
	}

	room, created, err := o.Rooms.Acquire(ctx, req.ConferenceID)
	if err != nil {
		return resp, o.checkFatal(err)
	}

	if old, ok := room.Peer(user.ID); ok {
		log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("participant", string(user.ID)).Msg("replacing live session")
		o.teardownPeer(room, old)
		o.Registry.ClearRoom(old.SID(), old)
	}

	peer := app.NewPeer(core.NewMemberSession(sid, domain.NewMember(user, role), sig))
	room.AddPeer(peer)
	if !o.Registry.SetRoom(sid, room.ID(), peer) {
		room.RemovePeer(peer)
		o.Rooms.ReleaseIfEmpty(room)
		room.Unlock()
		return resp, fmt.Errorf("session %s: %w", sid, core.ErrNotFound)
	}

	resp = protocol.JoinRoomResponse{
		ParticipantID:     user.ID,
		Capabilities:      room.Router().Capabilities(),
		ExistingProducers: room.Producers(user.ID),
		SendAllowed:       role.CanSend(),
	}
	o.broadcast(room, user.ID, protocol.TypePeerJoined, protocol.PeerJoined{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Role:        role,
	})
	conf := room.ID()
	room.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(conf)).Str("participant", string(user.ID)).Str("role", string(role)).Msg("joined")

	if created {
		o.announceConference(conf)
	}
	return resp, nil
}

// AfterJoin sends the out-of-band notices that follow a join response.
func (o *Orchestrator) AfterJoin(sid core.SessionID, resp protocol.JoinRoomResponse) {
	if resp.SendAllowed {
		return
	}
	if sig, _, ok := o.Registry.Signal(sid); ok {
		notify(sig, protocol.TypeFallbackDelivery, protocol.FallbackDelivery{Reason: fallbackReasonRole})
	}
}

// announceConference tells every connection outside conf that it exists. It
// only touches the connection registry.
func (o *Orchestrator) announceConference(conf domain.ConferenceID) {
	for _, sig := range o.Registry.Outside(conf) {
		notify(sig, protocol.TypeConferenceCreated, protocol.ConferenceCreated{ConferenceID: conf})
	}
}

// Leave removes the connection's peer from its room. Calling it again, or for
// a connection that never joined, does nothing.
func (o *Orchestrator) Leave(sid core.SessionID) {
	conf, peer, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	room, ok := o.Rooms.Lookup(conf)
	if !ok {
		o.Registry.ClearRoom(sid, peer)
		return
	}
	defer room.Unlock()
	if room.Current(peer) {
		o.teardownPeer(room, peer)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(conf)).Str("participant", string(peer.ID())).Msg("left")
	}
	o.Registry.ClearRoom(sid, peer)
	o.Rooms.ReleaseIfEmpty(room)
}

// OnDisconnect runs the leave path for a connection that went away and forgets it.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.Leave(sid)
	o.Registry.Unbind(sid)
	if o.Policy != nil {
		o.Policy.Forget(sid)
	}
}

// teardownPeer closes everything the peer owns, announces it and removes it
// from the room. Caller holds the room lock.
func (o *Orchestrator) teardownPeer(room *app.Room, peer *app.Peer) {
	if !peer.MarkClosed() {
		return
	}
	for _, c := range peer.Consumers() {
		closeConsumer(peer, c)
	}
	for _, p := range peer.Producers() {
		o.closeProducer(room, peer, p)
	}
	for _, t := range peer.Transports() {
		_ = t.Transition(domain.TransportClosed)
		t.Engine.Close()
		peer.RemoveTransport(t.ID)
	}
	room.RemovePeer(peer)
	o.broadcast(room, peer.ID(), protocol.TypePeerLeft, protocol.PeerLeft{UserID: peer.ID()})
}
