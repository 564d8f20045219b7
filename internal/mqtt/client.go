package mqtt

import (
	"fmt"
	"sync"

	"smartgarden/internal/utils"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MessageHandler receives the topic and payload of an incoming message
type MessageHandler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client wraps a paho client and re-subscribes after every reconnect
type Client struct {
	client MQTT.Client
	Topics Topics

	mu   sync.RWMutex
	subs map[string]subscription

	log zerolog.Logger
}

// NewClient connects to the broker. With connect-retry enabled the initial
// connection keeps retrying in the background when the broker is down.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		Topics: Topics{Prefix: cfg.TopicPrefix},
		subs:   make(map[string]subscription),
		log:    utils.Component("mqtt"),
	}

	opts := buildOptions(cfg)
	opts.SetOnConnectHandler(func(MQTT.Client) {
		c.log.Info().Str("broker", cfg.Broker).Msg("connected")
		c.restore()
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		c.log.Warn().Err(err).Msg("connection lost, reconnecting")
	})

	c.client = MQTT.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.log.Warn().Str("broker", cfg.Broker).Msg("broker not reachable yet, retrying in background")
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}
	return c, nil
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnectionOpen()
}

// Publish sends payload and waits for the broker acknowledgement
func (c *Client) Publish(topic string, qos byte, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: publish %s", ErrTimeout, topic)
	}
	return token.Error()
}

// Subscribe registers handler for topic and keeps it across reconnects
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if !c.IsConnected() {
		// restored by the on-connect handler
		return nil
	}
	token := c.client.Subscribe(topic, qos, wrap(handler))
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: subscribe %s", ErrTimeout, topic)
	}
	return token.Error()
}

func (c *Client) restore() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for topic, s := range c.subs {
		c.client.Subscribe(topic, s.qos, wrap(s.handler))
		c.log.Debug().Str("topic", topic).Msg("subscription restored")
	}
}

func wrap(h MessageHandler) MQTT.MessageHandler {
	return func(_ MQTT.Client, msg MQTT.Message) {
		h(msg.Topic(), msg.Payload())
	}
}

// Close disconnects from the broker
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect(disconnectWait)
	}
	c.log.Info().Msg("disconnected")
}
