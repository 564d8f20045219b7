package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartgarden/internal/automation"
	"smartgarden/internal/models"

	"github.com/google/uuid"
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrControlNotFound)
}

// owned loads a control and hides controls of other users
func (e *Engine) owned(ctx context.Context, id, userID string) (*models.Control, error) {
	c, err := e.store.GetControl(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load control %s: %w", ErrStoreUnavailable, id, err)
	}
	if userID != "" && c.UserID != userID {
		return nil, ErrControlNotFound
	}
	return c, nil
}

// ActivateManual switches a control on by operator command
func (e *Engine) ActivateManual(ctx context.Context, id, userID string, intensity, duration int) (*models.Control, error) {
	c, err := e.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if intensity < 0 || intensity > 100 || duration < 0 {
		return nil, fmt.Errorf("%w: intensity %d duration %d", models.ErrInvalidControl, intensity, duration)
	}

	t, ok := automation.Activate(c, e.now(), automation.Activation{
		Intensity:   intensity,
		Duration:    duration,
		TriggeredBy: models.TriggerManual,
		Manual:      true,
	})
	if !ok {
		return nil, fmt.Errorf("%w: control is %s", ErrInvalidState, c.Status)
	}
	if _, err := e.commit(ctx, t, false); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	e.log.Info().Str("control_id", c.ID).Int("intensity", c.CurrentState.Intensity).Int("duration", duration).Msg("manual activation")
	return c, nil
}

// DeactivateManual switches a control off by operator command. An inactive
// control is returned unchanged.
func (e *Engine) DeactivateManual(ctx context.Context, id, userID string) (*models.Control, error) {
	c, err := e.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	t, ok := automation.Deactivate(c, e.now(), models.TriggerManual)
	if !ok {
		return c, nil
	}
	if _, err := e.commit(ctx, t, false); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	e.log.Info().Str("control_id", c.ID).Int("total_runtime", c.CurrentState.TotalRuntime).Msg("manual deactivation")
	return c, nil
}

// CreateControl validates and stores a new control owned by userID
func (e *Engine) CreateControl(ctx context.Context, userID string, c *models.Control) (*models.Control, error) {
	now := e.now()

	c.ID = uuid.NewString()
	c.UserID = userID
	c.Status = models.StatusInactive
	c.IsActive = true
	c.CurrentState = models.CurrentState{}
	c.ExecutionHistory = nil
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Version = 1
	assignRuleIDs(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.CreateControl(ctx, c); err != nil {
		return nil, fmt.Errorf("%w: create control: %w", ErrStoreUnavailable, err)
	}
	e.log.Info().Str("control_id", c.ID).Str("device_id", c.DeviceID).Str("mode", string(c.Mode)).Msg("control created")
	return c, nil
}

// UpdateControl replaces the settings of a control. Runtime state and
// history are kept; an "updated" record is appended.
func (e *Engine) UpdateControl(ctx context.Context, id, userID string, in *models.Control) (*models.Control, error) {
	c, err := e.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	now := e.now()

	if in.ControlType != "" {
		c.ControlType = in.ControlType
	}
	if in.Mode != "" {
		c.Mode = in.Mode
	}
	if in.Status == models.StatusPaused || in.Status == models.StatusError ||
		(in.Status == models.StatusInactive && c.Status != models.StatusActive) {
		c.Status = in.Status
	}
	c.Manual.Intensity = in.Manual.Intensity
	c.Manual.Duration = in.Manual.Duration
	c.Schedule = in.Schedule
	c.Auto = in.Auto
	c.Threshold = in.Threshold
	c.Alert = in.Alert
	c.UpdatedAt = now
	assignRuleIDs(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	rec := models.ExecutionRecord{
		Timestamp:   now,
		Action:      models.ActionUpdated,
		Mode:        c.Mode,
		Intensity:   c.CurrentState.Intensity,
		TriggeredBy: models.TriggerManual,
		Result:      models.ResultSuccess,
	}
	c.AppendHistory(rec)

	if err := e.store.UpdateControl(ctx, c, &rec); err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: update control %s: %w", ErrStoreUnavailable, id, err)
	}
	e.log.Info().Str("control_id", c.ID).Str("mode", string(c.Mode)).Msg("control updated")
	return c, nil
}

// DeleteControl soft deletes a control; it drops out of every evaluation
func (e *Engine) DeleteControl(ctx context.Context, id, userID string) error {
	c, err := e.owned(ctx, id, userID)
	if err != nil {
		return err
	}
	if c.Status == models.StatusActive {
		if t, ok := automation.Deactivate(c, e.now(), models.TriggerManual); ok {
			if _, err := e.commit(ctx, t, false); err != nil {
				return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			}
		}
	}
	if err := e.store.SoftDelete(ctx, c.ID); err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("%w: delete control %s: %w", ErrStoreUnavailable, id, err)
	}
	e.log.Info().Str("control_id", c.ID).Msg("control deleted")
	return nil
}

// ListDeviceControls returns the active controls of a device owned by userID
func (e *Engine) ListDeviceControls(ctx context.Context, deviceID, userID string) ([]*models.Control, error) {
	controls, err := e.store.ListControls(ctx, Query{DeviceID: deviceID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	out := controls[:0]
	for _, c := range controls {
		if userID == "" || c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

// History returns a page of a control's execution history, newest first
func (e *Engine) History(ctx context.Context, id, userID string, limit, offset int) ([]models.ExecutionRecord, error) {
	if _, err := e.owned(ctx, id, userID); err != nil {
		return nil, err
	}
	recs, err := e.store.History(ctx, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return recs, nil
}

// NextRuns returns the next start of every active schedule of a control
func (e *Engine) NextRuns(ctx context.Context, c *models.Control) map[string]time.Time {
	loc := e.location(ctx, c.DeviceID)
	out := make(map[string]time.Time)
	for _, s := range c.Schedule.Schedules {
		if !s.IsActive {
			continue
		}
		if next, err := automation.NextRun(s, e.now(), loc); err == nil {
			out[s.Name] = next
		}
	}
	return out
}

func assignRuleIDs(c *models.Control) {
	for i := range c.Threshold.Conditions {
		if c.Threshold.Conditions[i].ID == "" {
			c.Threshold.Conditions[i].ID = uuid.NewString()
		}
	}
	if c.Alert.Enabled && c.Alert.ID == "" {
		c.Alert.ID = uuid.NewString()
	}
}
