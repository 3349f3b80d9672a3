// Package cooldown decides whether a user may issue another command.
package cooldown

import (
	"context"
	"sync"
	"time"
)

// DefaultPeriod is the minimum gap between two admitted commands of one user.
const DefaultPeriod = 10 * time.Second

// Tracker admits or rejects a user's command at time now.
// An admit records now as the user's last accepted time; a reject changes nothing.
type Tracker interface {
	Admit(ctx context.Context, userID string, now time.Time) bool
}

// Memory is a process-local Tracker. Entries live for the life of the process.
type Memory struct {
	period time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemory(period time.Duration) *Memory {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Memory{
		period: period,
		last:   make(map[string]time.Time),
	}
}

// Admit implements Tracker. The read-modify-write happens under one lock so two
// near-simultaneous requests cannot both pass.
func (m *Memory) Admit(_ context.Context, userID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.last[userID]; ok && now.Sub(last) < m.period {
		return false
	}
	m.last[userID] = now
	return true
}

// lastAccepted returns the stored timestamp for userID, if any.
func (m *Memory) lastAccepted(userID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.last[userID]
	return t, ok
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}
