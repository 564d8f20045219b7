package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smartgarden/internal/automation"
	"smartgarden/internal/mqtt"
)

// Publisher sends a payload to an MQTT topic
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Command is the actuation message a device receives on its control topic
type Command struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	Intensity int    `json:"intensity"`
	Timestamp string `json:"timestamp"`
}

// ActuatorService turns actuation intents into device commands
type ActuatorService struct {
	publisher Publisher
	topics    mqtt.Topics
	now       func() time.Time
}

// NewActuatorService creates an actuator publishing through p
func NewActuatorService(p Publisher, topics mqtt.Topics) *ActuatorService {
	return &ActuatorService{publisher: p, topics: topics, now: time.Now}
}

// Actuate publishes the command for a with QoS 1
func (s *ActuatorService) Actuate(_ context.Context, a automation.Actuation) error {
	intensity := a.Intensity
	if a.Action == "off" {
		intensity = 0
	}
	payload, err := json.Marshal(Command{
		Type:      string(a.ControlType),
		Action:    a.Action,
		Intensity: intensity,
		Timestamp: s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	topic := s.topics.Control(a.DeviceID)
	if err := s.publisher.Publish(topic, 1, payload); err != nil {
		return fmt.Errorf("actuate %s on %s: %w", a.ControlType, a.DeviceID, err)
	}
	return nil
}
