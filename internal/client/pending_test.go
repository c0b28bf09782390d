package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/huddle/internal/domain"
)

func info(producer string, owner domain.ParticipantID, kind domain.MediaKind) domain.ProducerInfo {
	return domain.ProducerInfo{ProducerID: producer, OwnerID: owner, Kind: kind}
}

func TestPendingQueue(t *testing.T) {
	var q PendingQueue
	assert.True(t, q.Push(info("p1", "alice", domain.KindAudio)))
	assert.True(t, q.Push(info("p2", "bob", domain.KindVideo)))
	assert.False(t, q.Push(info("p1", "alice", domain.KindAudio)))
	assert.True(t, q.Push(info("p3", "alice", domain.KindVideo)))
	assert.True(t, q.Push(info("p4", "carol", domain.KindAudio)))

	assert.True(t, q.Remove("p2"))
	assert.False(t, q.Remove("p2"))
	assert.Equal(t, 2, q.RemoveOwner("alice"))

	assert.Equal(t, []domain.ProducerInfo{info("p4", "carol", domain.KindAudio)}, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestAggregate_OneTrackPerKind(t *testing.T) {
	a := newAggregate("alice")
	audio := newRemoteTrack(info("p1", "alice", domain.KindAudio), "c1", newHeadlessTrack("c1", domain.KindAudio, 0))
	video := newRemoteTrack(info("p2", "alice", domain.KindVideo), "c2", newHeadlessTrack("c2", domain.KindVideo, 0))
	video2 := newRemoteTrack(info("p3", "alice", domain.KindVideo), "c3", newHeadlessTrack("c3", domain.KindVideo, 0))

	assert.Nil(t, a.Set(audio))
	assert.Nil(t, a.Set(video))
	assert.Same(t, video, a.Set(video2))
	assert.Equal(t, 2, a.Len())

	_, ok := a.Remove("p2")
	assert.False(t, ok)
	got, ok := a.Remove("p3")
	assert.True(t, ok)
	assert.Same(t, video2, got)
	_, ok = a.Track(domain.KindAudio)
	assert.True(t, ok)
	a.Remove("p1")
	assert.True(t, a.Empty())
}
