// Package mqtt wraps the Paho client used to relay control-plane messages
// between control clients through a shared broker.
package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// DefaultBrokerURL is used when no broker is configured.
const DefaultBrokerURL = "tcp://localhost:1883"

// Options configures a Client.
type Options struct {
	BrokerURL string
	ClientID  string
	Logger    zerolog.Logger
}

// Handler receives the topic and payload of an incoming message.
type Handler func(topic string, payload []byte)

// Client wraps the Paho MQTT client. Subscriptions are remembered and
// restored whenever the broker connection comes back.
type Client struct {
	client paho.Client
	log    zerolog.Logger
	broker string

	mu            sync.Mutex
	subscriptions map[string]Handler
}

// NewClient creates a new MQTT client but does not connect.
func NewClient(opts Options) *Client {
	if opts.BrokerURL == "" {
		opts.BrokerURL = DefaultBrokerURL
	}
	c := &Client{
		log:           opts.Logger,
		broker:        opts.BrokerURL,
		subscriptions: make(map[string]Handler),
	}

	po := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn().Err(err).Str("broker", c.broker).Msg("mqtt connection lost")
		})

	c.client = paho.NewClient(po)
	return c
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return &ConnectTimeoutError{}
	}
	return token.Error()
}

// onConnect restores every subscription after a (re)connect.
func (c *Client) onConnect(_ paho.Client) {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subscriptions))
	for topic, h := range c.subscriptions {
		subs[topic] = h
	}
	c.mu.Unlock()

	c.log.Info().Str("broker", c.broker).Int("subscriptions", len(subs)).Msg("mqtt connected")
	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			c.log.Error().Err(err).Str("topic", topic).Msg("mqtt resubscribe failed")
		}
	}
}

// Subscribe subscribes to a topic with the given handler.
// Subscribing again to the same topic replaces the handler.
func (c *Client) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	c.subscriptions[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		// Restored by onConnect.
		return nil
	}
	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler Handler) error {
	token := c.client.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Publish sends payload to topic at QoS 0 without waiting for delivery.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return &NotConnectedError{Broker: c.broker}
	}
	token := c.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return &PublishTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}

// PublishTimeoutError indicates a publish was not handed to the broker in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}

// NotConnectedError is returned when publishing without a broker connection.
type NotConnectedError struct {
	Broker string
}

func (e *NotConnectedError) Error() string {
	return "mqtt not connected to " + e.Broker
}

// StartWithRetry attempts to connect, logging errors but not crashing.
// Paho keeps retrying in the background. Returns true if connected.
func (c *Client) StartWithRetry() bool {
	if err := c.Connect(); err != nil {
		c.log.Error().Err(err).Str("broker", c.broker).Msg("mqtt connect failed")
		return false
	}
	return true
}
