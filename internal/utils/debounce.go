package utils

import (
	"sync"
	"time"
)

// DebounceWindow is the default window for coalescing device telemetry bursts
const DebounceWindow = 2000 * time.Millisecond

// Debouncer runs the last function submitted for a key once the key has been
// quiet for the window.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DebounceWindow
	}
	return &Debouncer{window: window, timers: make(map[string]*time.Timer)}
}

// Do schedules fn for key, replacing any pending call for the same key
func (d *Debouncer) Do(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		if d.timers[key] != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
	d.timers[key] = t
}

// Pending returns the number of keys waiting to fire
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop drops all pending calls
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for k, t := range d.timers {
		t.Stop()
		delete(d.timers, k)
	}
}
