package engine

import (
	"context"
	"sync"
	"time"

	"smartgarden/internal/automation"
	"smartgarden/internal/cooldown"
	"smartgarden/internal/utils"

	"github.com/rs/zerolog"
)

// Engine is the core control engine. It loads controls from the store, runs
// the pure evaluators on them, persists the resulting transitions and hands
// their intents to the dispatcher.
type Engine struct {
	store      Store
	telemetry  Telemetry
	cooldown   cooldown.Cache
	dispatcher Dispatcher
	deferrer   Deferrer
	queue      EvaluationQueue
	debounce   *utils.Debouncer

	now        func() time.Time
	window     time.Duration
	defaultLoc *time.Location

	locMu sync.Mutex
	locs  map[string]*time.Location

	timers *TimerDeferrer
	log    zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCooldownWindow sets the threshold cooldown window
func WithCooldownWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithDefaultLocation sets the timezone used for devices without one
func WithDefaultLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.defaultLoc = loc
		}
	}
}

// WithDeferrer replaces the in-process timer strategy for deferred auto-off
func WithDeferrer(d Deferrer) Option {
	return func(e *Engine) { e.deferrer = d }
}

// WithEvaluationQueue routes push-path evaluations through q
func WithEvaluationQueue(q EvaluationQueue) Option {
	return func(e *Engine) { e.queue = q }
}

// WithPushDebounce coalesces bursts of push telemetry per device
func WithPushDebounce(window time.Duration) Option {
	return func(e *Engine) {
		if window > 0 {
			e.debounce = utils.NewDebouncer(window)
		}
	}
}

// NewEngine creates a new engine instance
func NewEngine(store Store, telemetry Telemetry, cache cooldown.Cache, dispatcher Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		telemetry:  telemetry,
		cooldown:   cache,
		dispatcher: dispatcher,
		now:        time.Now,
		window:     cooldown.DefaultWindow,
		defaultLoc: time.UTC,
		locs:       make(map[string]*time.Location),
		log:        utils.Component("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.deferrer == nil {
		e.timers = NewTimerDeferrer(e.AutoOff)
		e.deferrer = e.timers
	}
	return e
}

// Stop cancels pending in-process timers
func (e *Engine) Stop() {
	if e.timers != nil {
		e.timers.Stop()
	}
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.log.Info().Msg("engine stopped")
}

// location resolves and caches a device's timezone
func (e *Engine) location(ctx context.Context, deviceID string) *time.Location {
	e.locMu.Lock()
	loc, ok := e.locs[deviceID]
	e.locMu.Unlock()
	if ok {
		return loc
	}

	loc = e.defaultLoc
	name, err := e.store.DeviceTimezone(ctx, deviceID)
	if err != nil {
		e.log.Warn().Err(err).Str("device_id", deviceID).Msg("timezone lookup failed, using default")
		return loc
	}
	if name != "" {
		if l, err := time.LoadLocation(name); err == nil {
			loc = l
		} else {
			e.log.Warn().Str("device_id", deviceID).Str("timezone", name).Msg("unknown timezone, using default")
		}
	}

	e.locMu.Lock()
	e.locs[deviceID] = loc
	e.locMu.Unlock()
	return loc
}

// ForgetLocation drops a cached device timezone
func (e *Engine) ForgetLocation(deviceID string) {
	e.locMu.Lock()
	delete(e.locs, deviceID)
	e.locMu.Unlock()
}

// commit persists a transition and releases its intents. Intents of a
// transition that did not apply are dropped.
func (e *Engine) commit(ctx context.Context, t automation.Transition, requireActive bool) (bool, error) {
	if t.Kind != automation.KindNotify {
		applied, err := e.store.SaveTransition(ctx, t.Control, t.Record, requireActive)
		if err != nil {
			return false, err
		}
		if !applied {
			e.log.Debug().Str("control_id", t.Control.ID).Str("kind", t.Kind).Msg("transition lost the race, dropped")
			return false, nil
		}
	}

	e.dispatcher.Dispatch(t.Intents...)

	if t.DeferredOff != nil {
		if err := e.deferrer.ScheduleOff(ctx, *t.DeferredOff); err != nil {
			// the sweep still catches the control through manualSettings.endTime
			e.log.Error().Err(err).Str("control_id", t.Control.ID).Msg("failed to schedule auto-off")
		}
	}
	return true, nil
}
