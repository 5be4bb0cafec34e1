package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for single-instance deployments and
// tests. One mutex covers the whole map; the per-key window update is
// therefore atomic by construction, matching the contract the Redis store
// provides via Lua.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string]*memoryWindow
	lastSweep time.Time
}

type memoryWindow struct {
	stamps  []time.Time
	touched time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*memoryWindow)}
}

// Add implements Store.
func (s *MemoryStore) Add(_ context.Context, key string, now time.Time, window time.Duration, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &memoryWindow{}
		s.windows[key] = w
	}

	// Prune entries that slid out of the window.
	cutoff := now.Add(-window)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept
	w.touched = now

	if len(w.stamps) >= limit {
		s.sweep(now)
		return len(w.stamps), false, nil
	}

	w.stamps = append(w.stamps, now)
	s.sweep(now)
	return len(w.stamps), true, nil
}

// sweep drops keys idle past their window so ephemeral clients do not
// accumulate forever. Throttled so the scan does not dominate hot paths.
func (s *MemoryStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < time.Minute {
		return
	}
	s.lastSweep = now

	for key, w := range s.windows {
		if len(w.stamps) == 0 && now.Sub(w.touched) > time.Minute {
			delete(s.windows, key)
		}
	}
}
