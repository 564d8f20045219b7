package automation

import (
	"time"

	"smartgarden/internal/models"
)

// LocationFunc resolves the timezone a control's device runs in
type LocationFunc func(c *models.Control) *time.Location

// ScheduleResult is the outcome of one schedule tick
type ScheduleResult struct {
	Transitions []Transition
	Skipped     []RuleError
}

// EvaluateSchedules matches every active schedule of every scheduled control
// against now. A schedule fires when today's weekday is in its days and its
// time equals the current "HH:MM" exactly; a missed minute is never replayed.
// Schedules of one control are applied independently, in slice order, with no
// deduplication between them.
func EvaluateSchedules(now time.Time, controls []*models.Control, loc LocationFunc) ScheduleResult {
	var res ScheduleResult

	for _, c := range controls {
		if c == nil || !c.IsActive || c.Mode != models.ModeScheduled || !c.Schedule.Enabled {
			continue
		}

		var tz *time.Location
		if loc != nil {
			tz = loc(c)
		}
		weekday, hhmm := LocalClock(now, tz)

		for _, s := range c.Schedule.Schedules {
			if !s.IsActive {
				continue
			}
			if err := s.Validate(); err != nil {
				res.Skipped = append(res.Skipped, RuleError{ControlID: c.ID, Rule: s.Name, Err: err})
				continue
			}
			if !containsDay(s.Days, weekday) {
				continue
			}

			if s.Time == hhmm {
				if t, ok := fireSchedule(c, s, now); ok {
					res.Transitions = append(res.Transitions, t)
				}
			}
			if s.EndTime != "" && s.EndTime == hhmm {
				if t, ok := Deactivate(c, now, models.TriggerSchedule); ok {
					res.Transitions = append(res.Transitions, t)
				}
			}
		}
	}
	return res
}

func fireSchedule(c *models.Control, s models.Schedule, now time.Time) (Transition, bool) {
	switch s.Action {
	case "notify":
		msg := s.Message
		if msg == "" {
			msg = "Reminder: " + s.Name
		}
		return Transition{
			Control: c,
			Kind:    KindNotify,
			Intents: []Intent{Notification{
				UserID:    c.UserID,
				DeviceID:  c.DeviceID,
				ControlID: c.ID,
				Kind:      NoticeReminder,
				Message:   msg,
				Severity:  "info",
				Realtime:  true,
			}},
		}, true
	case "off":
		return Deactivate(c, now, models.TriggerSchedule)
	}

	t, ok := Activate(c, now, Activation{
		Intensity:   s.Intensity,
		Duration:    s.Duration,
		TriggeredBy: models.TriggerSchedule,
	})
	if ok && s.Duration > 0 {
		t.DeferredOff = &DeferredOff{
			ControlID:   c.ID,
			DeviceID:    c.DeviceID,
			ControlType: c.ControlType,
			At:          now.Add(time.Duration(s.Duration) * time.Minute),
		}
	}
	return t, ok
}

func containsDay(days []string, day string) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
