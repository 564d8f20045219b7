package db

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"smartgarden/auth"
	"smartgarden/internal/engine"
	"smartgarden/internal/models"
)

var _ engine.Store = (*DB)(nil)

func TestBuildListQuery(t *testing.T) {
	sql, args := buildListQuery(engine.Query{DeviceID: "esp-1", Mode: models.ModeScheduled, ActiveOnly: true})
	if !strings.Contains(sql, "WHERE is_active AND device_id = $1 AND mode = $2") {
		t.Errorf("sql %s", sql)
	}
	if len(args) != 2 || args[0] != "esp-1" || args[1] != "scheduled" {
		t.Errorf("args %v", args)
	}

	sql, args = buildListQuery(engine.Query{})
	if strings.Contains(sql, "WHERE") || len(args) != 0 {
		t.Errorf("unfiltered query %s %v", sql, args)
	}

	sql, _ = buildListQuery(engine.Query{AlertsEnabled: true})
	if !strings.Contains(sql, "alert_settings->>'enabled'") {
		t.Errorf("sql %s", sql)
	}
}

type row []any

func (r row) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r[i].(string)
		case *models.ControlType:
			*p = models.ControlType(r[i].(string))
		case *models.Mode:
			*p = models.Mode(r[i].(string))
		case *models.Status:
			*p = models.Status(r[i].(string))
		case *[]byte:
			*p = r[i].([]byte)
		case *bool:
			*p = r[i].(bool)
		case *time.Time:
			*p = r[i].(time.Time)
		case *int64:
			*p = r[i].(int64)
		}
	}
	return nil
}

func TestScanControl(t *testing.T) {
	end := time.Date(2025, 6, 2, 6, 30, 0, 0, time.UTC)
	manual, _ := json.Marshal(models.ManualSettings{IsOn: true, Intensity: 40, EndTime: &end})
	threshold := []byte(`{"conditions":[{"id":"c1","sensorType":"temperature","operator":">","value":30}],
		"notifications":{"enabled":true,"methods":["websocket","email"]}}`)
	now := time.Now().UTC()

	c, err := scanControl(row{"ctl-1", "esp-1", "user-1", "fan", "threshold", "active",
		manual, []byte(`{}`), []byte(nil), threshold, []byte(`{"enabled":false}`),
		[]byte(`{"isOn":true,"intensity":40,"totalRuntime":12}`), true, now, now, int64(3)})
	if err != nil {
		t.Fatal(err)
	}
	if c.Manual.EndTime == nil || !c.Manual.EndTime.Equal(end) {
		t.Errorf("manual %+v", c.Manual)
	}
	if len(c.Threshold.Conditions) != 1 || !c.Threshold.Notifications.Has(models.NotifyRealtime) {
		t.Errorf("threshold %+v", c.Threshold)
	}
	if c.CurrentState.TotalRuntime != 12 || c.Version != 3 || c.Mode != models.ModeThreshold {
		t.Errorf("control %+v", c)
	}
}
var _ auth.UserStore = (*DB)(nil)
