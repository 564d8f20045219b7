// Package cooldown suppresses repeated alert triggers for the same key inside
// a time window. Entries are process state, not part of the control document.
package cooldown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultWindow is the minimum interval between two accepted triggers of one key
const DefaultWindow = 5 * time.Minute

// ErrUnavailable is returned when the backing store cannot be reached
var ErrUnavailable = errors.New("cooldown store unavailable")

// Key identifies an alert stream: device, sensor and optionally the rule
type Key struct {
	DeviceID   string
	SensorType string
	RuleID     string
}

func (k Key) String() string {
	parts := []string{k.DeviceID, k.SensorType}
	if k.RuleID != "" {
		parts = append(parts, k.RuleID)
	}
	return strings.Join(parts, "_")
}

// Cache is the check-and-set primitive shared by the pull and push evaluators.
//
// Acquire returns true and records now as the last trigger iff no accepted
// trigger for key lies within window before now. Two concurrent callers for
// the same key get at most one true per window.
type Cache interface {
	Acquire(ctx context.Context, key Key, now time.Time, window time.Duration) (bool, error)
	Last(ctx context.Context, key Key) (time.Time, bool, error)
	Reset(ctx context.Context) error
}

// MemoryCache keeps last-trigger times in a map guarded by a single mutex
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	calls   int
}

// pruneEvery controls how often Acquire sweeps stale entries
const pruneEvery = 256

// NewMemoryCache creates an empty cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]time.Time)}
}

// Acquire implements Cache
func (m *MemoryCache) Acquire(_ context.Context, key Key, now time.Time, window time.Duration) (bool, error) {
	k := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%pruneEvery == 0 {
		m.prune(now, window)
	}

	if last, ok := m.entries[k]; ok && now.Sub(last) <= window {
		return false, nil
	}
	m.entries[k] = now
	return true, nil
}

// Last implements Cache
func (m *MemoryCache) Last(_ context.Context, key Key) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.entries[key.String()]
	return t, ok, nil
}

// Reset implements Cache
func (m *MemoryCache) Reset(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]time.Time)
	m.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// prune drops entries whose window has passed; caller holds mu
func (m *MemoryCache) prune(now time.Time, window time.Duration) {
	for k, last := range m.entries {
		if now.Sub(last) > window {
			delete(m.entries, k)
		}
	}
}
