package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	keepAlive      = 60 * time.Second
	disconnectWait = 250 // milliseconds
)

var (
	// ErrNotConnected is returned when publishing while the broker is unreachable
	ErrNotConnected = errors.New("mqtt: not connected")
	// ErrTimeout is returned when the broker does not acknowledge in time
	ErrTimeout = errors.New("mqtt: timeout")
)

// Config holds the broker connection settings
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Topics builds the per-device topic names
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return "devices"
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Control is where actuation commands for a device are published
func (t Topics) Control(deviceID string) string {
	return fmt.Sprintf("%s/%s/control", t.prefix(), deviceID)
}

// Telemetry is where a device publishes sensor readings
func (t Topics) Telemetry(deviceID string) string {
	return fmt.Sprintf("%s/%s/telemetry", t.prefix(), deviceID)
}

// AllTelemetry matches the telemetry topic of every device
func (t Topics) AllTelemetry() string {
	return t.prefix() + "/+/telemetry"
}

// buildOptions configures auto-reconnect; subscriptions are restored by the
// client's on-connect handler.
func buildOptions(cfg Config) *MQTT.ClientOptions {
	opts := MQTT.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	return opts
}
