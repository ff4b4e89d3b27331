package ratelimit

import (
	"context"
	"sync"
	"time"
)

// ratelimit.Limiter interface implementation
var _ Limiter = (*Memory)(nil)

// Memory is a fixed window limiter local to the process.
type Memory struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	now     func() time.Time
	windows map[string]*memoryWindow
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

func NewMemory(window time.Duration, limit int) *Memory {
	return &Memory{
		window:  window,
		limit:   limit,
		now:     time.Now,
		windows: make(map[string]*memoryWindow),
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		m.sweep(now)
		w = &memoryWindow{resetAt: now.Add(m.window)}
		m.windows[key] = w
	}
	w.count++

	return result(w.count, m.limit, w.resetAt), nil
}

// sweep drops expired windows, caller holds the lock
func (m *Memory) sweep(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
