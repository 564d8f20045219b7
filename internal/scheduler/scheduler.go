package scheduler

import (
	"context"
	"sync"
	"time"

	"smartgarden/internal/utils"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickJob is the name of the engine's minute job
const TickJob = "engine:tick"

// Ticker runs one scheduler pass
type Ticker interface {
	Tick(ctx context.Context) error
}

// Scheduler manages named cron jobs
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	log     zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]cron.EntryID
}

// NewScheduler creates a scheduler. Each run gets a context bounded by
// timeout; a run still in progress when the next one is due is skipped.
func NewScheduler(timeout time.Duration) *Scheduler {
	logger := utils.Component("scheduler")
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
		timeout: timeout,
		log:     logger,
		jobs:    make(map[string]cron.EntryID),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", s.Count()).Msg("cron scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("cron scheduler stopped")
}

// AddOrUpdate registers fn under name, replacing any job with that name
func (s *Scheduler) AddOrUpdate(name, spec string, fn func(ctx context.Context) error) error {
	s.Remove(name)

	id, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("job done")
	})
	if err != nil {
		s.log.Error().Err(err).Str("job", name).Str("spec", spec).Msg("failed to add job")
		return err
	}

	s.mu.Lock()
	s.jobs[name] = id
	s.mu.Unlock()
	s.log.Info().Str("job", name).Str("spec", spec).Int("entry_id", int(id)).Msg("job scheduled")
	return nil
}

// ScheduleTick drives t on spec, normally every minute
func (s *Scheduler) ScheduleTick(spec string, t Ticker) error {
	return s.AddOrUpdate(TickJob, spec, t.Tick)
}

// Remove removes a job by name
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
}

// Count returns the number of scheduled jobs
func (s *Scheduler) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Next returns the next run of a job
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.RLock()
	id, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
