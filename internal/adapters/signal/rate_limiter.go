package signal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dkeye/huddle/internal/domain"
)

// pruneAbove is the table size at which idle limiters are dropped.
const pruneAbove = 1024

// JoinRateLimiter allows each participant limit joins per interval.
type JoinRateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.ParticipantID]*rate.Limiter
	every    rate.Limit
	burst    int
}

func NewJoinRateLimiter(limit int, interval time.Duration) *JoinRateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &JoinRateLimiter{
		limiters: make(map[domain.ParticipantID]*rate.Limiter),
		every:    rate.Every(interval / time.Duration(limit)),
		burst:    limit,
	}
}

func (rl *JoinRateLimiter) Allow(id domain.ParticipantID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limiters[id]
	if !ok {
		if len(rl.limiters) >= pruneAbove {
			rl.prune()
		}
		lim = rate.NewLimiter(rl.every, rl.burst)
		rl.limiters[id] = lim
	}
	return lim.Allow()
}

// prune drops limiters that have refilled completely. Caller holds rl.mu.
func (rl *JoinRateLimiter) prune() {
	for id, lim := range rl.limiters {
		if lim.Tokens() >= float64(rl.burst) {
			delete(rl.limiters, id)
		}
	}
}

// newMessageLimiter bounds how fast one connection may send requests.
func newMessageLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
