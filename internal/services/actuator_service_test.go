package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"smartgarden/internal/automation"
	"smartgarden/internal/models"
	"smartgarden/internal/mqtt"
)

type capture struct {
	topic   string
	qos     byte
	payload []byte
	err     error
}

func (c *capture) Publish(topic string, qos byte, payload []byte) error {
	c.topic, c.qos, c.payload = topic, qos, payload
	return c.err
}

func TestActuate(t *testing.T) {
	p := &capture{}
	s := NewActuatorService(p, mqtt.Topics{Prefix: "garden"})
	s.now = func() time.Time { return time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC) }

	err := s.Actuate(context.Background(), automation.Actuation{
		DeviceID: "esp-1", ControlType: models.ControlIrrigation, Action: "on", Intensity: 75,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.topic != "garden/esp-1/control" || p.qos != 1 {
		t.Errorf("topic %q qos %d", p.topic, p.qos)
	}
	var cmd Command
	if err := json.Unmarshal(p.payload, &cmd); err != nil {
		t.Fatal(err)
	}
	want := Command{Type: "irrigation", Action: "on", Intensity: 75, Timestamp: "2025-06-02T06:00:00Z"}
	if cmd != want {
		t.Errorf("command %+v", cmd)
	}

	_ = s.Actuate(context.Background(), automation.Actuation{DeviceID: "esp-1", ControlType: models.ControlFan, Action: "off", Intensity: 40})
	_ = json.Unmarshal(p.payload, &cmd)
	if cmd.Intensity != 0 {
		t.Errorf("off command carries intensity %d", cmd.Intensity)
	}
}

func TestActuateNotConnected(t *testing.T) {
	s := NewActuatorService(&capture{err: mqtt.ErrNotConnected}, mqtt.Topics{})
	err := s.Actuate(context.Background(), automation.Actuation{DeviceID: "esp-1", Action: "on"})
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("got %v", err)
	}
}
