package models

import (
	"errors"
	"fmt"
)

// ErrInvalidControl marks a malformed control or rule. Evaluators skip the
// offending rule and keep going.
var ErrInvalidControl = errors.New("invalid control")

// ErrDeviceNotFound is returned for unknown device ids
var ErrDeviceNotFound = errors.New("device not found")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidControl, fmt.Sprintf(format, args...))
}

// ParseClock parses an "HH:MM" string
func ParseClock(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, invalid("time %q is not HH:MM", s)
	}
	if _, err := fmt.Sscanf(s, "%02d:%02d", &hour, &minute); err != nil {
		return 0, 0, invalid("time %q is not HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, invalid("time %q out of range", s)
	}
	return hour, minute, nil
}

// Validate checks a schedule entry
func (s Schedule) Validate() error {
	if _, _, err := ParseClock(s.Time); err != nil {
		return err
	}
	if s.EndTime != "" {
		if _, _, err := ParseClock(s.EndTime); err != nil {
			return err
		}
	}
	if len(s.Days) == 0 {
		return invalid("schedule %q has no days", s.Name)
	}
	for _, d := range s.Days {
		if !ValidWeekday(d) {
			return invalid("schedule %q has unknown day %q", s.Name, d)
		}
	}
	switch s.Action {
	case "", "on", "off", "notify":
	default:
		return invalid("schedule %q has unknown action %q", s.Name, s.Action)
	}
	if s.Intensity < 0 || s.Intensity > 100 {
		return invalid("schedule %q intensity %d out of range", s.Name, s.Intensity)
	}
	if s.Duration < 0 {
		return invalid("schedule %q has negative duration", s.Name)
	}
	return nil
}

// Validate checks a threshold condition
func (c ThresholdCondition) Validate() error {
	if c.SensorType == "" {
		return invalid("threshold condition missing sensorType")
	}
	if !c.Operator.Valid() {
		return invalid("threshold condition has unknown operator %q", c.Operator)
	}
	if c.Action != nil {
		if c.Action.Intensity < 0 || c.Action.Intensity > 100 {
			return invalid("threshold action intensity %d out of range", c.Action.Intensity)
		}
		if c.Action.Duration < 0 {
			return invalid("threshold action has negative duration")
		}
	}
	return nil
}

// Validate checks alert settings. Disabled alerts are always valid.
func (a AlertSettings) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Sensor == "" {
		return invalid("alert missing sensor")
	}
	switch a.ConditionType {
	case AlertAbove:
		if a.MaxValue == nil {
			return invalid("alert above needs maxValue")
		}
	case AlertBelow:
		if a.MinValue == nil {
			return invalid("alert below needs minValue")
		}
	case AlertRange:
		if a.MinValue == nil || a.MaxValue == nil {
			return invalid("alert range needs minValue and maxValue")
		}
		if *a.MinValue > *a.MaxValue {
			return invalid("alert range minValue greater than maxValue")
		}
	default:
		return invalid("alert has unknown conditionType %q", a.ConditionType)
	}
	return nil
}

// Validate checks the whole control as written by an operator
func (c *Control) Validate() error {
	if c.DeviceID == "" {
		return invalid("missing deviceId")
	}
	if c.UserID == "" {
		return invalid("missing userId")
	}
	if !c.ControlType.Valid() {
		return invalid("unknown controlType %q", c.ControlType)
	}
	if !c.Mode.Valid() {
		return invalid("unknown mode %q", c.Mode)
	}
	if c.Status != "" && !c.Status.Valid() {
		return invalid("unknown status %q", c.Status)
	}
	if c.Manual.Intensity < 0 || c.Manual.Intensity > 100 {
		return invalid("manual intensity %d out of range", c.Manual.Intensity)
	}
	for _, s := range c.Schedule.Schedules {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	for _, cond := range c.Threshold.Conditions {
		if err := cond.Validate(); err != nil {
			return err
		}
	}
	if c.Auto.MinIntensity > c.Auto.MaxIntensity && c.Auto.MaxIntensity != 0 {
		return invalid("auto minIntensity greater than maxIntensity")
	}
	return c.Alert.Validate()
}
