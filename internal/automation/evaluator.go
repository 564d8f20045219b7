package automation

import (
	"fmt"
	"strconv"
	"time"

	"smartgarden/internal/cooldown"
	"smartgarden/internal/models"
)

// Compare evaluates actual <op> expected. Equality is exact float equality, so
// "==" against a non-integral sensor reading practically never holds.
func Compare(actual float64, op models.Operator, expected float64) bool {
	switch op {
	case models.OpGreater:
		return actual > expected
	case models.OpLess:
		return actual < expected
	case models.OpGreaterOrEqual:
		return actual >= expected
	case models.OpLessOrEqual:
		return actual <= expected
	case models.OpEqual:
		return actual == expected
	}
	return false
}

// Match is a satisfied threshold condition or alert
type Match struct {
	Control    *models.Control
	Key        cooldown.Key
	SensorType string
	Value      float64
	Threshold  float64
	// Condition is nil for alert matches
	Condition *models.ThresholdCondition
	// Direction is "above" or "below" and feeds the email template
	Direction string
}

// IsAlert reports whether m comes from alertSettings
func (m Match) IsAlert() bool { return m.Condition == nil }

// Describe renders the rule as "<sensor> <op> <value>"
func (m Match) Describe() string {
	if m.Condition != nil {
		return fmt.Sprintf("%s %s %s", m.SensorType, m.Condition.Operator, formatValue(m.Condition.Value))
	}
	return fmt.Sprintf("%s %s %s", m.SensorType, m.Direction, formatValue(m.Threshold))
}

// Eligible reports whether the threshold evaluator looks at c at all. Paused
// and faulted controls are skipped for both actuation and alerts.
func Eligible(c *models.Control) bool {
	if c == nil || !c.IsActive {
		return false
	}
	if c.Status == models.StatusPaused || c.Status == models.StatusError {
		return false
	}
	return c.Mode == models.ModeThreshold || c.Alert.Enabled
}

// MatchControl returns the satisfied rules of c against snap. Unknown readings
// never match; malformed rules are reported and skipped.
func MatchControl(c *models.Control, snap models.SensorSnapshot) ([]Match, []RuleError) {
	if !Eligible(c) {
		return nil, nil
	}

	var matches []Match
	var skipped []RuleError

	if c.Mode == models.ModeThreshold {
		for i := range c.Threshold.Conditions {
			cond := &c.Threshold.Conditions[i]
			ruleID := cond.ID
			if ruleID == "" {
				ruleID = fmt.Sprintf("%s#%d", c.ID, i)
			}
			if err := cond.Validate(); err != nil {
				skipped = append(skipped, RuleError{ControlID: c.ID, Rule: ruleID, Err: err})
				continue
			}
			v, ok := snap.Value(cond.SensorType)
			if !ok || !Compare(v, cond.Operator, cond.Value) {
				continue
			}
			matches = append(matches, Match{
				Control:    c,
				Key:        cooldown.Key{DeviceID: c.DeviceID, SensorType: cond.SensorType, RuleID: ruleID},
				SensorType: cond.SensorType,
				Value:      v,
				Threshold:  cond.Value,
				Condition:  cond,
				Direction:  direction(cond.Operator),
			})
		}
	}

	if c.Alert.Enabled {
		ruleID := c.Alert.ID
		if ruleID == "" {
			ruleID = c.ID + "#alert"
		}
		if err := c.Alert.Validate(); err != nil {
			skipped = append(skipped, RuleError{ControlID: c.ID, Rule: ruleID, Err: err})
		} else if m, ok := matchAlert(c, snap); ok {
			m.Key = cooldown.Key{DeviceID: c.DeviceID, SensorType: c.Alert.Sensor, RuleID: ruleID}
			matches = append(matches, m)
		}
	}

	return matches, skipped
}

func matchAlert(c *models.Control, snap models.SensorSnapshot) (Match, bool) {
	a := c.Alert
	v, ok := snap.Value(a.Sensor)
	if !ok {
		return Match{}, false
	}

	m := Match{Control: c, SensorType: a.Sensor, Value: v}
	switch a.ConditionType {
	case models.AlertAbove:
		if v > *a.MaxValue {
			m.Direction, m.Threshold = "above", *a.MaxValue
			return m, true
		}
	case models.AlertBelow:
		if v < *a.MinValue {
			m.Direction, m.Threshold = "below", *a.MinValue
			return m, true
		}
	case models.AlertRange:
		if v < *a.MinValue {
			m.Direction, m.Threshold = "below", *a.MinValue
			return m, true
		}
		if v > *a.MaxValue {
			m.Direction, m.Threshold = "above", *a.MaxValue
			return m, true
		}
	}
	return Match{}, false
}

// Fire turns an accepted match into a transition: owner notifications per
// the configured methods and, for threshold conditions carrying an action,
// an activation. Callers must have passed the cooldown check first.
func Fire(m Match, now time.Time) Transition {
	c := m.Control

	if m.IsAlert() {
		msg := c.Alert.Message
		if msg == "" {
			msg = fmt.Sprintf("%s is %s (%s %s)", m.SensorType, formatValue(m.Value), m.Direction, formatValue(m.Threshold))
		}
		n := Notification{
			UserID:    c.UserID,
			DeviceID:  c.DeviceID,
			ControlID: c.ID,
			Kind:      NoticeSensorAlert,
			Message:   msg,
			Severity:  "warning",
			Realtime:  true,
		}
		if c.Alert.Email {
			n.Emails = append(n.Emails, thresholdEmail(m, msg))
		}
		return Transition{Control: c, Kind: KindNotify, Intents: []Intent{n}}
	}

	t := Transition{Control: c, Kind: KindNotify}
	activated := false
	if act := m.Condition.Action; act != nil {
		at, ok := Activate(c, now, Activation{
			Intensity:   act.Intensity,
			Duration:    act.Duration,
			TriggeredBy: "threshold: " + m.Describe(),
			Silent:      true,
		})
		if ok {
			t = at
			activated = true
			if act.Duration > 0 {
				t.DeferredOff = &DeferredOff{
					ControlID:   c.ID,
					DeviceID:    c.DeviceID,
					ControlType: c.ControlType,
					At:          now.Add(time.Duration(act.Duration) * time.Minute),
				}
			}
		}
	}

	notify := c.Threshold.Notifications
	if !notify.Enabled {
		return t
	}

	msg := fmt.Sprintf("Threshold triggered: %s is %s (%s %s).",
		m.SensorType, formatValue(m.Value), m.Condition.Operator, formatValue(m.Condition.Value))
	if activated {
		msg += fmt.Sprintf(" %s activated.", c.ControlType)
	}
	n := Notification{
		UserID:    c.UserID,
		DeviceID:  c.DeviceID,
		ControlID: c.ID,
		Kind:      NoticeThresholdTriggered,
		Message:   msg,
		Severity:  "warning",
		Realtime:  notify.Has(models.NotifyRealtime),
		SMS:       notify.Has(models.NotifySMS),
	}
	if notify.Has(models.NotifyEmail) {
		n.Emails = append(n.Emails, thresholdEmail(m, ""))
		if activated {
			n.Emails = append(n.Emails, EmailAlert{
				Template:    TemplateAutoControl,
				SensorType:  m.SensorType,
				Value:       m.Value,
				Threshold:   m.Threshold,
				ControlType: c.ControlType,
				Action:      "on",
				Reason:      fmt.Sprintf("%s (current: %s)", m.Describe(), formatValue(m.Value)),
			})
		}
	}
	if n.Realtime || n.SMS || len(n.Emails) > 0 {
		t.Intents = append(t.Intents, n)
	}
	return t
}

func thresholdEmail(m Match, msg string) EmailAlert {
	return EmailAlert{
		Template:    TemplateThresholdAlert,
		SensorType:  m.SensorType,
		Value:       m.Value,
		Threshold:   m.Threshold,
		Condition:   m.Direction,
		ControlType: m.Control.ControlType,
		Message:     msg,
	}
}

func direction(op models.Operator) string {
	if op == models.OpGreater || op == models.OpGreaterOrEqual {
		return "above"
	}
	return "below"
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
