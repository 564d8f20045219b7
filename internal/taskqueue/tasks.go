package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smartgarden/internal/automation"
	"smartgarden/internal/dispatch"
	"smartgarden/internal/utils"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Task types
const (
	TypeAutoOff           = "control:auto_off"
	TypeTelemetryEvaluate = "telemetry:evaluate"
	TypeNotifyEmail       = "notify:email"
)

// AutoOffPayload is the payload of a deferred deactivation
type AutoOffPayload struct {
	ControlID   string    `json:"control_id"`
	DeviceID    string    `json:"device_id"`
	ControlType string    `json:"control_type"`
	At          time.Time `json:"at"`
}

// EvaluatePayload is the payload of a push-path evaluation
type EvaluatePayload struct {
	DeviceID string `json:"device_id"`
}

// NewAutoOffTask builds the deferred deactivation task for off. The task id
// is derived from the control and due time so a retried tick cannot queue
// the same off twice.
func NewAutoOffTask(off automation.DeferredOff) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(AutoOffPayload{
		ControlID:   off.ControlID,
		DeviceID:    off.DeviceID,
		ControlType: string(off.ControlType),
		At:          off.At,
	})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.ProcessAt(off.At),
		asynq.TaskID(fmt.Sprintf("auto_off:%s:%d", off.ControlID, off.At.Unix())),
		asynq.MaxRetry(5),
		asynq.Timeout(30 * time.Second),
	}
	return asynq.NewTask(TypeAutoOff, payload), opts, nil
}

// NewEvaluateTask builds a push-path evaluation task. Duplicates inside the
// debounce window are rejected by asynq.
func NewEvaluateTask(deviceID string) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(EvaluatePayload{DeviceID: deviceID})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Unique(utils.DebounceWindow),
		asynq.MaxRetry(2),
		asynq.Timeout(30 * time.Second),
	}
	return asynq.NewTask(TypeTelemetryEvaluate, payload), opts, nil
}

// NewEmailTask builds an email delivery task
func NewEmailTask(job dispatch.EmailJob) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
	}
	return asynq.NewTask(TypeNotifyEmail, payload), opts, nil
}

// Queue enqueues engine tasks. It implements the engine's Deferrer and
// EvaluationQueue and the notifier's EmailQueue.
type Queue struct {
	client *asynq.Client
	log    zerolog.Logger
}

// NewQueue creates a queue on the given Redis connection
func NewQueue(opt asynq.RedisConnOpt) *Queue {
	return &Queue{client: asynq.NewClient(opt), log: utils.Component("taskqueue")}
}

// ScheduleOff enqueues a durable deferred deactivation
func (q *Queue) ScheduleOff(ctx context.Context, off automation.DeferredOff) error {
	task, opts, err := NewAutoOffTask(off)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, opts)
}

// EnqueueEvaluation enqueues a push-path evaluation of deviceID
func (q *Queue) EnqueueEvaluation(ctx context.Context, deviceID string) error {
	task, opts, err := NewEvaluateTask(deviceID)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, opts)
}

// EnqueueEmail enqueues an email delivery
func (q *Queue) EnqueueEmail(ctx context.Context, job dispatch.EmailJob) error {
	task, opts, err := NewEmailTask(job)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, opts)
}

func (q *Queue) enqueue(ctx context.Context, task *asynq.Task, opts []asynq.Option) error {
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		q.log.Debug().Str("type", task.Type()).Msg("duplicate task skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	q.log.Debug().Str("type", task.Type()).Str("id", info.ID).Str("queue", info.Queue).Msg("task enqueued")
	return nil
}

// Close releases the Redis connection
func (q *Queue) Close() error {
	return q.client.Close()
}
