// Package dispatch executes the intents produced by the engine: actuation
// commands to devices and notifications to control owners. Work runs on a
// fixed worker pool so a slow broker or mail provider never blocks evaluation.
package dispatch

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"smartgarden/internal/automation"
	"smartgarden/internal/utils"

	"github.com/rs/zerolog"
)

const jobTimeout = 30 * time.Second

// Actuator sends an actuation to a device
type Actuator interface {
	Actuate(ctx context.Context, a automation.Actuation) error
}

// Notifier delivers a notification to its owner
type Notifier interface {
	Notify(ctx context.Context, n automation.Notification) error
}

// Dispatcher runs intents on a worker pool. Each worker owns a bounded queue
// and intents are sharded by device id, so one device's commands run in the
// order they were dispatched.
type Dispatcher struct {
	actuator Actuator
	notifier Notifier
	workers  int

	mu     sync.RWMutex
	shards []chan automation.Intent
	closed bool
	wg     sync.WaitGroup

	dropped atomic.Int64
	log     zerolog.Logger
}

// New creates a dispatcher; Start launches its workers
func New(actuator Actuator, notifier Notifier, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	perShard := queueSize / workers
	if perShard < 1 {
		perShard = 1
	}
	d := &Dispatcher{
		actuator: actuator,
		notifier: notifier,
		workers:  workers,
		shards:   make([]chan automation.Intent, workers),
		log:      utils.Component("dispatch"),
	}
	for i := range d.shards {
		d.shards[i] = make(chan automation.Intent, perShard)
	}
	return d
}

// Start launches the workers
func (d *Dispatcher) Start() {
	for _, jobs := range d.shards {
		d.wg.Add(1)
		go d.worker(jobs)
	}
	d.log.Info().Int("workers", d.workers).Msg("dispatcher started")
}

// Dispatch queues intents without blocking. Intents that do not fit are
// dropped and logged.
func (d *Dispatcher) Dispatch(intents ...automation.Intent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, in := range intents {
		select {
		case d.shards[d.shard(in)] <- in:
		default:
			d.dropped.Add(1)
			d.log.Warn().Msgf("queue full, dropping %T", in)
		}
	}
}

// shard picks the worker queue for an intent by its device id
func (d *Dispatcher) shard(in automation.Intent) int {
	var deviceID string
	switch v := in.(type) {
	case automation.Actuation:
		deviceID = v.DeviceID
	case automation.Notification:
		deviceID = v.DeviceID
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// Dropped returns how many intents were discarded because the queue was full
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Stop drains the queue and waits for the workers
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, jobs := range d.shards {
		close(jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.log.Info().Msg("dispatcher stopped")
}

func (d *Dispatcher) worker(jobs <-chan automation.Intent) {
	defer d.wg.Done()
	for in := range jobs {
		d.run(in)
	}
}

func (d *Dispatcher) run(in automation.Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	switch v := in.(type) {
	case automation.Actuation:
		if d.actuator == nil {
			return
		}
		if err := d.actuator.Actuate(ctx, v); err != nil {
			d.log.Error().Err(err).
				Str("device_id", v.DeviceID).
				Str("control_type", string(v.ControlType)).
				Str("action", v.Action).
				Msg("actuation failed")
		}
	case automation.Notification:
		if d.notifier == nil {
			return
		}
		if err := d.notifier.Notify(ctx, v); err != nil {
			d.log.Error().Err(err).Str("user_id", v.UserID).Str("kind", v.Kind).Msg("notification failed")
		}
	}
}
