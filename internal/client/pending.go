package client

import "github.com/dkeye/huddle/internal/domain"

// PendingQueue holds stream-available events that arrived before the receive
// side was ready, in arrival order. It is not safe for concurrent use.
type PendingQueue struct {
	items []domain.ProducerInfo
}

// Push appends info unless the producer is already queued.
func (q *PendingQueue) Push(info domain.ProducerInfo) bool {
	if q.Contains(info.ProducerID) {
		return false
	}
	q.items = append(q.items, info)
	return true
}

func (q *PendingQueue) Contains(producerID string) bool {
	for _, it := range q.items {
		if it.ProducerID == producerID {
			return true
		}
	}
	return false
}

// Remove drops a queued producer, for a stream closed before it was consumed.
func (q *PendingQueue) Remove(producerID string) bool {
	for i, it := range q.items {
		if it.ProducerID == producerID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveOwner drops every queued producer of owner and returns how many.
func (q *PendingQueue) RemoveOwner(owner domain.ParticipantID) int {
	kept := q.items[:0]
	for _, it := range q.items {
		if it.OwnerID != owner {
			kept = append(kept, it)
		}
	}
	n := len(q.items) - len(kept)
	clear(q.items[len(kept):])
	q.items = kept
	return n
}

// Drain empties the queue and returns its contents in arrival order.
func (q *PendingQueue) Drain() []domain.ProducerInfo {
	out := q.items
	q.items = nil
	return out
}

func (q *PendingQueue) Len() int { return len(q.items) }
