package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// RelayManager holds one relay per producer of a router.
type RelayManager struct {
	ctx context.Context

	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager(ctx context.Context) *RelayManager {
	return &RelayManager{ctx: ctx, relays: make(map[string]*Relay)}
}

// Open registers a relay for a producer before its track arrives, so consumers
// can subscribe right away.
func (m *RelayManager) Open(producerID string) *Relay {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.relays[producerID]; ok {
		return r
	}
	r := NewRelay(m.ctx, producerID)
	m.relays[producerID] = r
	return r
}

// StartRelay starts forwarding src for producerID.
func (m *RelayManager) StartRelay(producerID string, src PacketSource) bool {
	m.mu.RLock()
	relay, ok := m.relays[producerID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	logger := log.With().Str("module", "relay").Str("producer", producerID).Logger()
	if !relay.Start(src, &logger) {
		logger.Warn().Msg("relay already running")
		return false
	}
	logger.Info().Msg("starting relay loop")
	return true
}

// AddSubscriber attaches a consumer's out track to a producer's relay.
func (m *RelayManager) AddSubscriber(producerID, consumerID string, ot *OutTrack) bool {
	m.mu.RLock()
	relay, ok := m.relays[producerID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(consumerID, ot)
	return true
}

// MarkSubscriberDelete marks a consumer's out track as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(producerID, consumerID string) {
	m.mu.RLock()
	relay, ok := m.relays[producerID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if ot, ok := relay.OutTrack(consumerID); ok {
		ot.MarkDelete()
	}
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(producerID string) {
	m.mu.Lock()
	relay, ok := m.relays[producerID]
	if ok {
		delete(m.relays, producerID)
	}
	m.mu.Unlock()
	if ok {
		relay.Stop()
	}
}

func (m *RelayManager) HasRelay(producerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[producerID]
	return ok
}

func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.Stop()
	}
}
