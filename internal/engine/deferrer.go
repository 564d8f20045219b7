package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"smartgarden/internal/automation"
)

// TimerDeferrer runs deferred deactivations on in-process timers. Pending
// timers are lost on restart; the sweep still catches controls whose
// manualSettings.endTime has passed.
type TimerDeferrer struct {
	fire func(context.Context, automation.DeferredOff) error
	now  func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTimerDeferrer creates a timer deferrer calling fire when an off is due
func NewTimerDeferrer(fire func(context.Context, automation.DeferredOff) error) *TimerDeferrer {
	return &TimerDeferrer{
		fire:   fire,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
}

// timerKey identifies a deferred off by control and deadline, matching the
// queue task id
func timerKey(off automation.DeferredOff) string {
	return off.ControlID + "@" + strconv.FormatInt(off.At.Unix(), 10)
}

// ScheduleOff arms a timer for off. Offs for the same control at different
// deadlines all fire; one at an already armed deadline replaces it.
func (d *TimerDeferrer) ScheduleOff(_ context.Context, off automation.DeferredOff) error {
	delay := off.At.Sub(d.now())
	if delay < 0 {
		delay = 0
	}
	key := timerKey(off)

	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.timers[key] == t {
			delete(d.timers, key)
		}
		d.mu.Unlock()
		_ = d.fire(context.Background(), off)
	})
	d.timers[key] = t
	return nil
}

// Pending returns the number of armed timers
func (d *TimerDeferrer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop disarms all timers
func (d *TimerDeferrer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}
