package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("06:30")
	if err != nil || h != 6 || m != 30 {
		t.Fatalf("ParseClock(06:30) = %d, %d, %v", h, m, err)
	}

	for _, bad := range []string{"", "6:30", "24:00", "12:60", "ab:cd", "12-30"} {
		if _, _, err := ParseClock(bad); !errors.Is(err, ErrInvalidControl) {
			t.Errorf("ParseClock(%q) error = %v, want ErrInvalidControl", bad, err)
		}
	}
}

func TestScheduleValidate(t *testing.T) {
	ok := Schedule{Name: "morning", Time: "06:00", Days: []string{"monday"}, Intensity: 100, Duration: 30, IsActive: true}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}

	noDays := ok
	noDays.Days = nil
	if err := noDays.Validate(); err == nil {
		t.Error("schedule without days accepted")
	}

	badDay := ok
	badDay.Days = []string{"Monday"}
	if err := badDay.Validate(); err == nil {
		t.Error("capitalised weekday accepted")
	}

	badIntensity := ok
	badIntensity.Intensity = 101
	if err := badIntensity.Validate(); err == nil {
		t.Error("intensity 101 accepted")
	}
}

func TestThresholdConditionValidate(t *testing.T) {
	if err := (ThresholdCondition{Operator: OpGreater, Value: 30}).Validate(); err == nil {
		t.Error("condition without sensorType accepted")
	}
	if err := (ThresholdCondition{SensorType: "temperature", Operator: "!=", Value: 30}).Validate(); err == nil {
		t.Error("unknown operator accepted")
	}
	good := ThresholdCondition{SensorType: "temperature", Operator: OpGreater, Value: 30, Action: &ThresholdAction{Intensity: 80, Duration: 10}}
	if err := good.Validate(); err != nil {
		t.Errorf("valid condition rejected: %v", err)
	}
}

func TestAlertValidate(t *testing.T) {
	if err := (AlertSettings{}).Validate(); err != nil {
		t.Errorf("disabled alert rejected: %v", err)
	}
	rng := AlertSettings{Enabled: true, Sensor: "humidity", ConditionType: AlertRange, MinValue: ptr(70), MaxValue: ptr(40)}
	if err := rng.Validate(); err == nil {
		t.Error("inverted range accepted")
	}
	above := AlertSettings{Enabled: true, Sensor: "temperature", ConditionType: AlertAbove}
	if err := above.Validate(); err == nil {
		t.Error("above without maxValue accepted")
	}
}

func TestNotificationMethodLegacyValue(t *testing.T) {
	var n NotificationSettings
	if err := json.Unmarshal([]byte(`{"enabled":true,"methods":["websocket","email"]}`), &n); err != nil {
		t.Fatal(err)
	}
	if !n.Has(NotifyRealtime) || !n.Has(NotifyEmail) || n.Has(NotifySMS) {
		t.Errorf("methods = %v", n.Methods)
	}
}

func TestSettingsFollowsMode(t *testing.T) {
	c := &Control{Mode: ModeThreshold}
	if _, ok := c.Settings().(ThresholdSettings); !ok {
		t.Errorf("threshold control settings = %T", c.Settings())
	}
	c.Mode = ModeScheduled
	if _, ok := c.Settings().(ScheduleSettings); !ok {
		t.Errorf("scheduled control settings = %T", c.Settings())
	}
	c.Mode = ""
	if _, ok := c.Settings().(ManualSettings); !ok {
		t.Errorf("default settings = %T", c.Settings())
	}
}

func TestSnapshotUnknown(t *testing.T) {
	var nilSnap SensorSnapshot
	if _, ok := nilSnap.Value("temperature"); ok {
		t.Error("nil snapshot reported a value")
	}
	s := SensorSnapshot{"temperature": 21.5}
	if v, ok := s.Value("temperature"); !ok || v != 21.5 {
		t.Errorf("Value = %v, %v", v, ok)
	}
	if _, ok := s.Value("humidity"); ok {
		t.Error("missing sensor reported as known")
	}
}

func TestClampIntensity(t *testing.T) {
	cases := map[int]int{-5: 0, 0: 0, 55: 55, 100: 100, 140: 100}
	for in, want := range cases {
		if got := ClampIntensity(in); got != want {
			t.Errorf("ClampIntensity(%d) = %d, want %d", in, got, want)
		}
	}
}
