package engine

import (
	"context"
	"errors"
	"fmt"

	"smartgarden/internal/automation"
	"smartgarden/internal/models"
)

// Trigger names the path a threshold evaluation came from
type Trigger string

const (
	TriggerPull Trigger = "pull"
	TriggerPush Trigger = "push"
)

// Report summarizes one threshold evaluation pass over a device
type Report struct {
	Evaluated  int
	Matched    int
	Fired      int
	Suppressed int
	Skipped    int
}

// EvaluateDevice runs threshold conditions and sensor alerts of every active
// control of deviceID against snap. Both the heartbeat and the telemetry path
// end here and share one cooldown cache.
func (e *Engine) EvaluateDevice(ctx context.Context, deviceID string, snap models.SensorSnapshot, trigger Trigger) (Report, error) {
	var rep Report
	now := e.now()

	controls, err := e.store.ListControls(ctx, Query{DeviceID: deviceID, ActiveOnly: true})
	if err != nil {
		return rep, fmt.Errorf("%w: list controls of %s: %w", ErrStoreUnavailable, deviceID, err)
	}

	for _, c := range controls {
		if !automation.Eligible(c) {
			continue
		}
		rep.Evaluated++

		matches, skipped := automation.MatchControl(c, snap)
		for _, s := range skipped {
			rep.Skipped++
			e.log.Warn().Err(s).Str("control_id", c.ID).Msg("skipping malformed rule")
		}

		for _, m := range matches {
			rep.Matched++
			accepted, err := e.cooldown.Acquire(ctx, m.Key, now, e.window)
			if err != nil {
				e.log.Error().Err(err).Str("key", m.Key.String()).Msg("cooldown check failed, rule skipped")
				continue
			}
			if !accepted {
				rep.Suppressed++
				continue
			}

			t := automation.Fire(m, now)
			if _, err := e.commit(ctx, t, false); err != nil {
				e.log.Error().Err(err).Str("control_id", c.ID).Msg("failed to apply threshold")
				continue
			}
			rep.Fired++
			e.log.Info().
				Str("control_id", c.ID).
				Str("device_id", deviceID).
				Str("rule", m.Describe()).
				Float64("value", m.Value).
				Str("trigger", string(trigger)).
				Msg("threshold fired")
		}
	}
	return rep, nil
}

// HandleHeartbeat is the pull path: it merges the readings a device reports
// with its poll, evaluates them and returns the device's controls for the
// response. Evaluation failures never fail the heartbeat.
func (e *Engine) HandleHeartbeat(ctx context.Context, deviceID string, snap models.SensorSnapshot) ([]*models.Control, error) {
	if len(snap) > 0 {
		merged, err := e.telemetry.Update(ctx, deviceID, snap)
		if err != nil {
			e.log.Warn().Err(err).Str("device_id", deviceID).Msg("telemetry update failed, evaluating reported readings only")
			merged = snap
		}
		if _, err := e.EvaluateDevice(ctx, deviceID, merged, TriggerPull); err != nil {
			e.log.Error().Err(err).Str("device_id", deviceID).Msg("heartbeat evaluation failed")
		}
	}

	controls, err := e.store.ListControls(ctx, Query{DeviceID: deviceID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: list controls of %s: %w", ErrStoreUnavailable, deviceID, err)
	}
	return controls, nil
}

// HandleTelemetry is the push path for a device telemetry message. The
// readings are merged right away; evaluation is queued, debounced or run
// inline depending on configuration.
func (e *Engine) HandleTelemetry(ctx context.Context, deviceID string, payload []byte) error {
	if deviceID == "" {
		return errors.New("telemetry without device id")
	}
	snap, err := automation.ParseTelemetry(payload)
	if err != nil {
		return err
	}
	merged, err := e.telemetry.Update(ctx, deviceID, snap)
	if err != nil {
		return fmt.Errorf("update telemetry of %s: %w", deviceID, err)
	}

	switch {
	case e.queue != nil:
		return e.queue.EnqueueEvaluation(ctx, deviceID)
	case e.debounce != nil:
		e.debounce.Do(deviceID, func() {
			if err := e.EvaluateStored(context.Background(), deviceID); err != nil {
				e.log.Error().Err(err).Str("device_id", deviceID).Msg("telemetry evaluation failed")
			}
		})
		return nil
	}
	_, err = e.EvaluateDevice(ctx, deviceID, merged, TriggerPush)
	return err
}

// EvaluateStored evaluates deviceID against its latest stored readings
func (e *Engine) EvaluateStored(ctx context.Context, deviceID string) error {
	snap, err := e.telemetry.Snapshot(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("load telemetry of %s: %w", deviceID, err)
	}
	_, err = e.EvaluateDevice(ctx, deviceID, snap, TriggerPush)
	return err
}
