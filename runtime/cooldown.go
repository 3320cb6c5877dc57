package runtime

import (
	"sync"
	"time"
)

// CooldownGate is the global rate limiter guarding calls into the external
// assistant. A single instance is shared by every sender: the whole hub has
// one assistant-call budget, which bounds aggregate request pressure and not
// just per-user pressure.
type CooldownGate struct {
	mu       sync.Mutex
	last     time.Time
	cooldown time.Duration
	now      func() time.Time
}

func NewCooldownGate(cooldown time.Duration) *CooldownGate {
	return &CooldownGate{cooldown: cooldown, now: time.Now}
}

// TryAcquire atomically checks whether the cooldown has elapsed since the
// last successful acquisition. On success the gate is re-armed immediately,
// before the assistant call is made: a later assistant failure does not
// refund the acquisition, which prevents retry storms against a failing
// backend.
func (g *CooldownGate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.last) < g.cooldown {
		return false
	}
	g.last = now
	return true
}

// Remaining reports how long until the next acquisition can succeed.
// Zero means the gate is open.
func (g *CooldownGate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	left := g.cooldown - g.now().Sub(g.last)
	if left < 0 {
		return 0
	}
	return left
}
