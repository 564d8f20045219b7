package automation

import (
	"fmt"
	"time"

	"smartgarden/internal/models"
)

// Activation describes how a control is switched on
type Activation struct {
	Intensity   int
	Duration    int // minutes, 0 = until switched off
	TriggeredBy string
	// Manual records the activation under manual mode and updates manualSettings.
	Manual bool
	// Silent skips the owner notice; the caller sends its own notification.
	Silent bool
}

// Activate switches c on. Re-activating an active control overwrites
// lastActivated and appends another history entry; deduplication is the
// evaluators' job. Paused and error controls are left untouched.
func Activate(c *models.Control, now time.Time, a Activation) (Transition, bool) {
	if c.Status == models.StatusPaused || c.Status == models.StatusError {
		return Transition{}, false
	}

	intensity := models.ClampIntensity(a.Intensity)
	duration := a.Duration
	if duration < 0 {
		duration = 0
	}
	at := now

	c.Status = models.StatusActive
	c.CurrentState.IsOn = true
	c.CurrentState.Intensity = intensity
	c.CurrentState.LastActivated = &at

	if duration > 0 {
		end := now.Add(time.Duration(duration) * time.Minute)
		c.Manual.EndTime = &end
	} else {
		c.Manual.EndTime = nil
	}

	mode := c.Mode
	if a.Manual {
		mode = models.ModeManual
		c.Manual.IsOn = true
		c.Manual.Intensity = intensity
		c.Manual.Duration = duration
		c.Manual.StartTime = &at
	}

	rec := models.ExecutionRecord{
		Timestamp:   now,
		Action:      models.ActionActivated,
		Mode:        mode,
		Intensity:   intensity,
		Duration:    duration,
		TriggeredBy: a.TriggeredBy,
		Result:      models.ResultSuccess,
	}
	c.AppendHistory(rec)

	t := Transition{
		Control: c,
		Kind:    KindActivated,
		Record:  &rec,
		Intents: []Intent{Actuation{
			ControlID:   c.ID,
			DeviceID:    c.DeviceID,
			ControlType: c.ControlType,
			Action:      "on",
			Intensity:   intensity,
		}},
	}
	if !a.Silent {
		t.Intents = append(t.Intents, ownerNotice(c, models.ActionActivated, a.TriggeredBy))
	}
	return t, true
}

// Deactivate switches c off and books the elapsed whole minutes into
// totalRuntime. It is a no-op when c is not active.
func Deactivate(c *models.Control, now time.Time, triggeredBy string) (Transition, bool) {
	if c.Status != models.StatusActive {
		return Transition{}, false
	}

	if last := c.CurrentState.LastActivated; last != nil {
		if elapsed := int(now.Sub(*last) / time.Minute); elapsed > 0 {
			c.CurrentState.TotalRuntime += elapsed
		}
	}

	at := now
	c.Status = models.StatusInactive
	c.CurrentState.IsOn = false
	c.CurrentState.Intensity = 0
	c.CurrentState.LastDeactivated = &at
	c.Manual.IsOn = false

	mode := c.Mode
	if triggeredBy == models.TriggerManual {
		mode = models.ModeManual
		c.Manual.EndTime = &at
	}

	rec := models.ExecutionRecord{
		Timestamp:   now,
		Action:      models.ActionDeactivated,
		Mode:        mode,
		TriggeredBy: triggeredBy,
		Result:      models.ResultSuccess,
	}
	c.AppendHistory(rec)

	return Transition{
		Control: c,
		Kind:    KindDeactivated,
		Record:  &rec,
		Intents: []Intent{
			Actuation{
				ControlID:   c.ID,
				DeviceID:    c.DeviceID,
				ControlType: c.ControlType,
				Action:      "off",
			},
			ownerNotice(c, models.ActionDeactivated, triggeredBy),
		},
	}, true
}

func ownerNotice(c *models.Control, action, triggeredBy string) Notification {
	n := Notification{
		UserID:    c.UserID,
		DeviceID:  c.DeviceID,
		ControlID: c.ID,
		Severity:  "info",
		Realtime:  true,
	}
	switch {
	case action == models.ActionActivated && triggeredBy == models.TriggerSchedule:
		n.Kind = NoticeScheduledOn
		n.Message = fmt.Sprintf("%s activated by schedule", c.ControlType)
	case action == models.ActionActivated:
		n.Kind = NoticeActivated
		n.Message = fmt.Sprintf("%s has been activated", c.ControlType)
	case triggeredBy == models.TriggerSchedule:
		n.Kind = NoticeScheduledOff
		n.Message = fmt.Sprintf("%s deactivated by schedule", c.ControlType)
	case triggeredBy == models.TriggerAutoTimeout:
		n.Kind = NoticeAutoDeactivated
		n.Message = fmt.Sprintf("%s automatically deactivated after timeout", c.ControlType)
	default:
		n.Kind = NoticeDeactivated
		n.Message = fmt.Sprintf("%s has been deactivated", c.ControlType)
	}
	return n
}
