package engine

import (
	"context"
	"fmt"
	"time"

	"smartgarden/internal/automation"
	"smartgarden/internal/models"
)

// Tick runs one scheduler pass: schedule evaluation followed by the
// auto-deactivation sweep. Failures on one control are logged and do not
// stop the others; only failing to list controls is returned.
func (e *Engine) Tick(ctx context.Context) error {
	now := e.now()

	controls, err := e.store.ListControls(ctx, Query{Mode: models.ModeScheduled, ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("%w: list scheduled controls: %w", ErrStoreUnavailable, err)
	}

	locs := make(map[string]*time.Location)
	for _, c := range controls {
		if _, ok := locs[c.DeviceID]; !ok {
			locs[c.DeviceID] = e.location(ctx, c.DeviceID)
		}
	}

	res := automation.EvaluateSchedules(now, controls, func(c *models.Control) *time.Location {
		return locs[c.DeviceID]
	})
	for _, skipped := range res.Skipped {
		e.log.Warn().Err(skipped).Str("control_id", skipped.ControlID).Msg("skipping malformed schedule")
	}
	for _, t := range res.Transitions {
		if _, err := e.commit(ctx, t, false); err != nil {
			e.log.Error().Err(err).Str("control_id", t.Control.ID).Str("kind", t.Kind).Msg("failed to apply schedule")
			continue
		}
		e.log.Info().Str("control_id", t.Control.ID).Str("device_id", t.Control.DeviceID).Str("kind", t.Kind).Msg("schedule applied")
	}

	if err := e.Sweep(ctx); err != nil {
		return err
	}
	return nil
}

// Sweep deactivates every active control whose manual end time has passed.
// The write is conditional on the control still being active, so a control
// switched off concurrently is skipped silently.
func (e *Engine) Sweep(ctx context.Context) error {
	now := e.now()

	candidates, err := e.store.ListExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("%w: list expired controls: %w", ErrStoreUnavailable, err)
	}

	for _, c := range automation.Expired(now, candidates) {
		t, ok := automation.Deactivate(c, now, models.TriggerAutoTimeout)
		if !ok {
			continue
		}
		applied, err := e.commit(ctx, t, true)
		if err != nil {
			e.log.Error().Err(err).Str("control_id", c.ID).Msg("auto-deactivation failed")
			continue
		}
		if applied {
			e.log.Info().Str("control_id", c.ID).Int("total_runtime", c.CurrentState.TotalRuntime).Msg("control auto-deactivated")
		}
	}
	return nil
}

// AutoOff runs a deferred deactivation. An active control is switched off in
// full; otherwise a redundant off command is still sent to the device.
func (e *Engine) AutoOff(ctx context.Context, off automation.DeferredOff) error {
	now := e.now()

	c, err := e.store.GetControl(ctx, off.ControlID)
	if err != nil {
		if isNotFound(err) {
			e.log.Debug().Str("control_id", off.ControlID).Msg("auto-off for a removed control, skipping")
			return nil
		}
		return fmt.Errorf("%w: load control %s: %w", ErrStoreUnavailable, off.ControlID, err)
	}

	if t, ok := automation.Deactivate(c, now, models.TriggerSchedule); ok {
		applied, err := e.commit(ctx, t, true)
		if err != nil {
			return err
		}
		if applied {
			e.log.Info().Str("control_id", c.ID).Msg("scheduled duration elapsed, control deactivated")
			return nil
		}
	}

	e.dispatcher.Dispatch(automation.Actuation{
		ControlID:   off.ControlID,
		DeviceID:    off.DeviceID,
		ControlType: off.ControlType,
		Action:      "off",
	})
	return nil
}
