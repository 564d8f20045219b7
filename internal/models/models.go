package models

import (
	"time"
)

// Device represents a garden device that hosts sensors and actuators
type Device struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Timezone   string  `json:"timezone"`
	OwnerID    *string `json:"owner_id"`
	APIKeyHash string  `json:"-"`
}

// ManualSettings holds the manual block of a control
type ManualSettings struct {
	IsOn      bool       `json:"isOn"`
	Intensity int        `json:"intensity"`
	Duration  int        `json:"duration"` // minutes
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// Schedule is a named time-of-day rule inside a scheduled control
type Schedule struct {
	Name      string   `json:"name"`
	Time      string   `json:"time"`              // HH:MM
	EndTime   string   `json:"endTime,omitempty"` // HH:MM, optional
	Days      []string `json:"days"`
	Action    string   `json:"action"` // on, off, notify
	Intensity int      `json:"intensity"`
	Duration  int      `json:"duration"` // minutes
	IsActive  bool     `json:"isActive"`
	Message   string   `json:"message,omitempty"`
}

// ScheduleSettings holds the scheduled block of a control
type ScheduleSettings struct {
	Enabled   bool       `json:"enabled"`
	Schedules []Schedule `json:"schedules"`
}

// AutoSettings holds the target-value block. Only the contract is carried here,
// the control loop itself lives outside the engine.
type AutoSettings struct {
	TargetValue    float64 `json:"targetValue"`
	Tolerance      float64 `json:"tolerance"`
	SensorType     string  `json:"sensorType"`
	AdjustmentRate float64 `json:"adjustmentRate"`
	MinIntensity   int     `json:"minIntensity"`
	MaxIntensity   int     `json:"maxIntensity"`
}

// ThresholdAction is the actuation applied when a threshold condition fires
type ThresholdAction struct {
	Intensity int `json:"intensity"`
	Duration  int `json:"duration"` // minutes, 0 = indefinite
}

// ThresholdCondition compares one sensor reading against a fixed value
type ThresholdCondition struct {
	ID         string           `json:"id"`
	SensorType string           `json:"sensorType"`
	Operator   Operator         `json:"operator"`
	Value      float64          `json:"value"`
	Action     *ThresholdAction `json:"action,omitempty"`
}

// NotificationSettings selects how threshold notifications are delivered
type NotificationSettings struct {
	Enabled bool                 `json:"enabled"`
	Methods []NotificationMethod `json:"methods"`
}

// Has reports whether method m is configured
func (n NotificationSettings) Has(m NotificationMethod) bool {
	for _, method := range n.Methods {
		if method == m {
			return true
		}
	}
	return false
}

// ThresholdSettings holds the threshold block of a control
type ThresholdSettings struct {
	Conditions    []ThresholdCondition `json:"conditions"`
	Notifications NotificationSettings `json:"notifications"`
}

// AlertSettings is the notification-only sensor rule. It never drives actuation.
type AlertSettings struct {
	ID            string         `json:"id"`
	Enabled       bool           `json:"enabled"`
	Sensor        string         `json:"sensor"`
	ConditionType AlertCondition `json:"conditionType"`
	MinValue      *float64       `json:"minValue,omitempty"`
	MaxValue      *float64       `json:"maxValue,omitempty"`
	Message       string         `json:"message"`
	Email         bool           `json:"email"`
}

// CurrentState is the runtime state of the actuator behind a control
type CurrentState struct {
	IsOn              bool       `json:"isOn"`
	Intensity         int        `json:"intensity"`
	LastActivated     *time.Time `json:"lastActivated,omitempty"`
	LastDeactivated   *time.Time `json:"lastDeactivated,omitempty"`
	TotalRuntime      int        `json:"totalRuntime"` // minutes
	EnergyConsumption float64    `json:"energyConsumption"`
}

// ExecutionRecord is one entry of a control's execution history
type ExecutionRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"` // activated, deactivated, updated
	Mode        Mode      `json:"mode"`
	Intensity   int       `json:"intensity"`
	Duration    int       `json:"duration"`
	TriggeredBy string    `json:"triggeredBy"`
	Result      string    `json:"result"`
}

// Control is one automation rule bound to one device and one actuator type
type Control struct {
	ID               string            `json:"id"`
	DeviceID         string            `json:"deviceId"`
	UserID           string            `json:"userId"`
	ControlType      ControlType       `json:"controlType"`
	Mode             Mode              `json:"mode"`
	Status           Status            `json:"status"`
	Manual           ManualSettings    `json:"manualSettings"`
	Schedule         ScheduleSettings  `json:"scheduleSettings"`
	Auto             AutoSettings      `json:"autoSettings"`
	Threshold        ThresholdSettings `json:"thresholdSettings"`
	Alert            AlertSettings     `json:"alertSettings"`
	CurrentState     CurrentState      `json:"currentState"`
	ExecutionHistory []ExecutionRecord `json:"executionHistory"`
	IsActive         bool              `json:"isActive"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	Version          int64             `json:"version"`
}

// AppendHistory is the only way records enter the execution history
func (c *Control) AppendHistory(rec ExecutionRecord) {
	c.ExecutionHistory = append(c.ExecutionHistory, rec)
}

// IsOn reports whether the control is currently driving its actuator
func (c *Control) IsOn() bool {
	return c.Status == StatusActive && c.CurrentState.IsOn
}

// ModeSettings is the authoritative settings block of a control, selected by mode
type ModeSettings interface {
	mode() Mode
}

func (ManualSettings) mode() Mode    { return ModeManual }
func (ScheduleSettings) mode() Mode  { return ModeScheduled }
func (AutoSettings) mode() Mode      { return ModeAuto }
func (ThresholdSettings) mode() Mode { return ModeThreshold }

// Settings returns the block that governs the control's current mode.
// The persisted document keeps all blocks; only this one is authoritative.
func (c *Control) Settings() ModeSettings {
	switch c.Mode {
	case ModeScheduled:
		return c.Schedule
	case ModeAuto:
		return c.Auto
	case ModeThreshold:
		return c.Threshold
	default:
		return c.Manual
	}
}

// SensorSnapshot holds the latest known reading per sensor type.
// A missing key means the reading is unknown.
type SensorSnapshot map[string]float64

// Value returns the reading for sensorType and whether it is known
func (s SensorSnapshot) Value(sensorType string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s[sensorType]
	return v, ok
}

// ClampIntensity keeps an intensity inside [0,100]
func ClampIntensity(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
