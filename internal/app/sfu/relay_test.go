package sfu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalTrack(t *testing.T, id string) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, id, "stream")
	require.NoError(t, err)
	return tr
}

func TestOutTrack_States(t *testing.T) {
	ot := NewOutTrack(newLocalTrack(t, "a"))
	assert.Equal(t, TrackStateMuted, ot.GetState())
	ot.MarkOk()
	assert.Equal(t, TrackStateOk, ot.GetState())
	ot.MarkMuted()
	assert.Equal(t, TrackStateMuted, ot.GetState())
	ot.MarkDelete()
	ot.MarkOk()
	assert.Equal(t, TrackStateDelete, ot.GetState(), "delete is terminal")
}

func TestRelay_ForwardSkipsMutedAndDropsDeleted(t *testing.T) {
	logger := zerolog.Nop()
	r := NewRelay(context.Background(), "p1")
	live, muted, gone := NewOutTrack(newLocalTrack(t, "a")), NewOutTrack(newLocalTrack(t, "b")), NewOutTrack(newLocalTrack(t, "c"))
	live.MarkOk()
	gone.MarkDelete()
	r.AddOutTrack("live", live)
	r.AddOutTrack("muted", muted)
	r.AddOutTrack("gone", gone)

	// Unbound local tracks accept writes and drop them.
	r.forward(&rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 1}}, &logger)

	_, ok := r.OutTrack("gone")
	assert.False(t, ok)
	_, ok = r.OutTrack("live")
	assert.True(t, ok)
	_, ok = r.OutTrack("muted")
	assert.True(t, ok)
}

func TestRelayManager_LoopEndsWithSource(t *testing.T) {
	m := NewRelayManager(context.Background())
	relay := m.Open("p1")
	assert.Same(t, relay, m.Open("p1"))

	ot := NewOutTrack(newLocalTrack(t, "a"))
	require.True(t, m.AddSubscriber("p1", "c1", ot))
	assert.False(t, m.AddSubscriber("missing", "c1", ot))

	packets := make(chan *rtp.Packet, 1)
	packets <- &rtp.Packet{Header: rtp.Header{Version: 2}}
	close(packets)
	src := func() (*rtp.Packet, error) {
		if p, ok := <-packets; ok {
			return p, nil
		}
		return nil, errors.New("eof")
	}
	require.True(t, m.StartRelay("p1", src))
	assert.False(t, m.StartRelay("p1", src))

	select {
	case <-relay.Done():
	case <-time.After(time.Second):
		t.Fatal("relay loop did not stop")
	}
	assert.Equal(t, TrackStateDelete, ot.GetState())
}

func TestRelayManager_StopRelay(t *testing.T) {
	m := NewRelayManager(context.Background())
	m.Open("p1")
	ot := NewOutTrack(newLocalTrack(t, "a"))
	m.AddSubscriber("p1", "c1", ot)

	m.MarkSubscriberDelete("p1", "c1")
	assert.Equal(t, TrackStateDelete, ot.GetState())

	m.StopRelay("p1")
	assert.False(t, m.HasRelay("p1"))
	m.StopRelay("p1")
}
