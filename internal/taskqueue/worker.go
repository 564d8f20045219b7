package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"smartgarden/internal/automation"
	"smartgarden/internal/dispatch"
	"smartgarden/internal/models"
	"smartgarden/internal/utils"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Handlers are the engine operations the worker runs
type Handlers struct {
	AutoOff  func(ctx context.Context, off automation.DeferredOff) error
	Evaluate func(ctx context.Context, deviceID string) error
	Mailer   dispatch.Mailer
}

// Worker processes engine tasks
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
	log zerolog.Logger
}

// NewWorker creates a worker; only handlers that are set are registered
func NewWorker(opt asynq.RedisConnOpt, concurrency int, h Handlers) *Worker {
	if concurrency <= 0 {
		concurrency = 10
	}
	w := &Worker{
		mux: NewMux(h),
		log: utils.Component("taskqueue"),
	}
	w.srv = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Logger:      asynqLogger{w.log},
	})
	return w
}

// NewMux routes task types to h
func NewMux(h Handlers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	if h.AutoOff != nil {
		mux.HandleFunc(TypeAutoOff, autoOffHandler(h.AutoOff))
	}
	if h.Evaluate != nil {
		mux.HandleFunc(TypeTelemetryEvaluate, evaluateHandler(h.Evaluate))
	}
	if h.Mailer != nil {
		mux.HandleFunc(TypeNotifyEmail, emailHandler(h.Mailer))
	}
	return mux
}

// Start runs the worker in the background
func (w *Worker) Start() error {
	w.log.Info().Msg("starting workers")
	return w.srv.Start(w.mux)
}

// Stop waits for running tasks and stops the worker
func (w *Worker) Stop() {
	w.srv.Shutdown()
	w.log.Info().Msg("workers stopped")
}

func autoOffHandler(fn func(context.Context, automation.DeferredOff) error) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p AutoOffPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		return fn(ctx, automation.DeferredOff{
			ControlID:   p.ControlID,
			DeviceID:    p.DeviceID,
			ControlType: models.ControlType(p.ControlType),
			At:          p.At,
		})
	}
}

func evaluateHandler(fn func(context.Context, string) error) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p EvaluatePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil || p.DeviceID == "" {
			return fmt.Errorf("decode %s: %w", t.Type(), asynq.SkipRetry)
		}
		return fn(ctx, p.DeviceID)
	}
}

func emailHandler(m dispatch.Mailer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var job dispatch.EmailJob
		if err := json.Unmarshal(t.Payload(), &job); err != nil || job.To == "" {
			return fmt.Errorf("decode %s: %w", t.Type(), asynq.SkipRetry)
		}
		return m.SendAlert(ctx, job.To, job.Alert)
	}
}

// asynqLogger adapts zerolog to asynq's logger
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
