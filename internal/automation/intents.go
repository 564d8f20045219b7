// Package automation holds the I/O-free part of the engine: the control state
// machine and the schedule and threshold evaluators. Evaluators mutate the
// controls they are given and describe side effects as intents; executing
// those intents is the caller's job.
package automation

import (
	"time"

	"smartgarden/internal/models"
)

// Intent is a side effect to be carried out by a dispatcher
type Intent interface {
	isIntent()
}

// Actuation asks a device to switch an output on or off
type Actuation struct {
	ControlID   string
	DeviceID    string
	ControlType models.ControlType
	Action      string // on, off
	Intensity   int
}

// Notification kinds
const (
	NoticeActivated          = "control_activated"
	NoticeDeactivated        = "control_deactivated"
	NoticeScheduledOn        = "scheduled_activation"
	NoticeScheduledOff       = "scheduled_deactivation"
	NoticeAutoDeactivated    = "control_auto_deactivated"
	NoticeThresholdTriggered = "threshold_triggered"
	NoticeSensorAlert        = "sensor_alert"
	NoticeReminder           = "reminder"
)

// Email templates
const (
	TemplateThresholdAlert = "threshold_alert"
	TemplateAutoControl    = "auto_control"
)

// Notification is addressed to the owner of a control
type Notification struct {
	UserID    string
	DeviceID  string
	ControlID string
	Kind      string
	Message   string
	Severity  string
	Realtime  bool
	SMS       bool
	Emails    []EmailAlert
}

// EmailAlert carries the data an email template renders
type EmailAlert struct {
	Template    string
	SensorType  string
	Value       float64
	Threshold   float64
	Condition   string // above, below
	ControlType models.ControlType
	Action      string
	Reason      string
	Message     string
}

func (Actuation) isIntent()    {}
func (Notification) isIntent() {}

// Transition kinds
const (
	KindActivated   = models.ActionActivated
	KindDeactivated = models.ActionDeactivated
	KindNotify      = "notify"
)

// DeferredOff is a deactivation to run later, registered by schedules with a duration
type DeferredOff struct {
	ControlID   string
	DeviceID    string
	ControlType models.ControlType
	At          time.Time
}

// Transition is the outcome of one evaluation step on one control
type Transition struct {
	Control     *models.Control
	Kind        string
	Record      *models.ExecutionRecord // nil when no history entry is written
	Intents     []Intent
	DeferredOff *DeferredOff
}

// Actuations returns the actuation intents of t
func (t Transition) Actuations() []Actuation {
	var out []Actuation
	for _, i := range t.Intents {
		if a, ok := i.(Actuation); ok {
			out = append(out, a)
		}
	}
	return out
}

// Notifications returns the notification intents of t
func (t Transition) Notifications() []Notification {
	var out []Notification
	for _, i := range t.Intents {
		if n, ok := i.(Notification); ok {
			out = append(out, n)
		}
	}
	return out
}

// RuleError reports a malformed rule that was skipped
type RuleError struct {
	ControlID string
	Rule      string
	Err       error
}

func (e RuleError) Error() string {
	return "control " + e.ControlID + " rule " + e.Rule + ": " + e.Err.Error()
}

func (e RuleError) Unwrap() error { return e.Err }
