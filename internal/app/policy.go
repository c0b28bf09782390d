package app

import (
	"sync"

	"github.com/dkeye/huddle/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose connection cannot keep up with
// room events.
type Policy interface {
	OnBackPressure(room *Room, member core.MemberSession) BackpressureAction
	// Forget drops whatever the policy remembers about a connection that went away.
	Forget(sid core.SessionID)
}

// NewPolicy returns SimplePolicy for a zero budget and a DropBudgetPolicy otherwise.
func NewPolicy(budget int) Policy {
	if budget <= 0 {
		return SimplePolicy{}
	}
	return NewDropBudgetPolicy(budget)
}

// SimplePolicy kicks on the first dropped event.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*Room, core.MemberSession) BackpressureAction {
	return KickMember
}

func (SimplePolicy) Forget(core.SessionID) {}

// DropBudgetPolicy lets a connection lose up to Budget events before it is kicked.
// A lost presence event leaves the client with a stale roster, so the budget
// should stay small.
type DropBudgetPolicy struct {
	Budget int

	mu    sync.Mutex
	drops map[core.SessionID]int
}

func NewDropBudgetPolicy(budget int) *DropBudgetPolicy {
	return &DropBudgetPolicy{Budget: budget, drops: make(map[core.SessionID]int)}
}

func (p *DropBudgetPolicy) OnBackPressure(_ *Room, m core.MemberSession) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drops[m.SID()]++
	if p.drops[m.SID()] > p.Budget {
		delete(p.drops, m.SID())
		return KickMember
	}
	return NoAction
}

func (p *DropBudgetPolicy) Forget(sid core.SessionID) {
	p.mu.Lock()
	delete(p.drops, sid)
	p.mu.Unlock()
}

func (p *DropBudgetPolicy) dropCount(sid core.SessionID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drops[sid]
}
