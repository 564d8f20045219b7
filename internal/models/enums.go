package models

import (
	"encoding/json"
	"strings"
)

// ControlType is the kind of actuator a control drives
type ControlType string

const (
	ControlLight      ControlType = "light"
	ControlIrrigation ControlType = "irrigation"
	ControlFan        ControlType = "fan"
	ControlHeater     ControlType = "heater"
	ControlCooler     ControlType = "cooler"
	ControlFertilizer ControlType = "fertilizer"
	ControlReminder   ControlType = "reminder"
	ControlAlert      ControlType = "alert"
	ControlWater      ControlType = "water"
	ControlMist       ControlType = "mist"
	ControlPump       ControlType = "pump"
)

// Valid returns true for known control types
func (t ControlType) Valid() bool {
	switch t {
	case ControlLight, ControlIrrigation, ControlFan, ControlHeater, ControlCooler,
		ControlFertilizer, ControlReminder, ControlAlert, ControlWater, ControlMist, ControlPump:
		return true
	}
	return false
}

// Mode selects which settings block of a control is authoritative
type Mode string

const (
	ModeManual    Mode = "manual"
	ModeScheduled Mode = "scheduled"
	ModeAuto      Mode = "auto"
	ModeThreshold Mode = "threshold"
)

// Valid returns true for known modes
func (m Mode) Valid() bool {
	switch m {
	case ModeManual, ModeScheduled, ModeAuto, ModeThreshold:
		return true
	}
	return false
}

// Status of a control
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	// StatusPaused and StatusError are set by external overrides only.
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// Valid returns true for known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusPaused, StatusError:
		return true
	}
	return false
}

// Operator is a threshold comparison operator
type Operator string

const (
	OpGreater        Operator = ">"
	OpLess           Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
)

// Valid returns true when operator is supported
func (o Operator) Valid() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual, OpEqual:
		return true
	}
	return false
}

// AlertCondition is the comparison used by alert settings
type AlertCondition string

const (
	AlertAbove AlertCondition = "above"
	AlertBelow AlertCondition = "below"
	AlertRange AlertCondition = "range"
)

// Valid returns true for known alert conditions
func (a AlertCondition) Valid() bool {
	switch a {
	case AlertAbove, AlertBelow, AlertRange:
		return true
	}
	return false
}

// NotificationMethod is a notification delivery channel
type NotificationMethod string

const (
	NotifyRealtime NotificationMethod = "realtime"
	NotifyEmail    NotificationMethod = "email"
	NotifySMS      NotificationMethod = "sms"
)

// UnmarshalJSON accepts the legacy "websocket" value as realtime
func (m *NotificationMethod) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.ToLower(s)
	if s == "websocket" {
		s = string(NotifyRealtime)
	}
	*m = NotificationMethod(s)
	return nil
}

// Weekdays in the form schedules store them
var Weekdays = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// ValidWeekday reports whether day is a lowercase weekday name
func ValidWeekday(day string) bool {
	for _, d := range Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// Execution history actions and results
const (
	ActionActivated   = "activated"
	ActionDeactivated = "deactivated"
	ActionUpdated     = "updated"

	ResultSuccess = "success"
)

// Trigger sources recorded in execution history
const (
	TriggerManual      = "manual"
	TriggerSchedule    = "schedule"
	TriggerAutoTimeout = "auto_timeout"
)
