package engine

import (
	"context"
	"time"

	"smartgarden/internal/automation"
	"smartgarden/internal/models"
)

// Query filters ListControls. Zero values do not filter.
type Query struct {
	DeviceID      string
	Mode          models.Mode
	ActiveOnly    bool
	AlertsEnabled bool
}

// Store persists controls and their execution history
type Store interface {
	GetControl(ctx context.Context, id string) (*models.Control, error)
	ListControls(ctx context.Context, q Query) ([]*models.Control, error)
	// ListExpired returns active controls whose manual end time is at or before now
	ListExpired(ctx context.Context, now time.Time) ([]*models.Control, error)
	// SaveTransition writes the runtime state of c and appends rec when it is
	// not nil. With requireActive the write only applies while the stored
	// control is still active; false is returned when it did not apply.
	SaveTransition(ctx context.Context, c *models.Control, rec *models.ExecutionRecord, requireActive bool) (bool, error)
	CreateControl(ctx context.Context, c *models.Control) error
	UpdateControl(ctx context.Context, c *models.Control, rec *models.ExecutionRecord) error
	SoftDelete(ctx context.Context, id string) error
	History(ctx context.Context, id string, limit, offset int) ([]models.ExecutionRecord, error)
	DeviceTimezone(ctx context.Context, deviceID string) (string, error)
}

// Telemetry keeps the latest known readings per device
type Telemetry interface {
	Snapshot(ctx context.Context, deviceID string) (models.SensorSnapshot, error)
	// Update merges snap into the stored readings and returns the result
	Update(ctx context.Context, deviceID string, snap models.SensorSnapshot) (models.SensorSnapshot, error)
}

// Dispatcher executes intents. Dispatch must not block the caller.
type Dispatcher interface {
	Dispatch(intents ...automation.Intent)
}

// Deferrer runs a deactivation later
type Deferrer interface {
	ScheduleOff(ctx context.Context, off automation.DeferredOff) error
}

// EvaluationQueue hands push-path evaluations to background workers
type EvaluationQueue interface {
	EnqueueEvaluation(ctx context.Context, deviceID string) error
}
