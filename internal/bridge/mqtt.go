package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/obwan02/Actionator/internal/streaming"
)

// DefaultMQTTTopic is the topic prefix used when none is configured.
const DefaultMQTTTopic = "actionator"

// MQTTConfig configures an MQTTConn.
type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string // prefix; frames go to <Topic>/<producer>
	ClientID string
	QoS      byte
	Timeout  time.Duration
	Logger   *slog.Logger
}

// mqttClient is the part of mqtt.Client the bridge uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// MQTTConn publishes every frame to <topic>/<producer>. Frames sent while
// the client is reconnecting are counted and skipped, so a broker outage
// does not cost the bridge its subscription.
type MQTTConn struct {
	client  mqttClient
	topic   string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
	skipped atomic.Int64
}

// DialMQTT connects to the broker and returns a conn ready to subscribe.
func DialMQTT(cfg MQTTConfig) (*MQTTConn, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker url is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "actionator-" + uuid.New().String()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	return newMQTTConn(client, cfg), nil
}

func newMQTTConn(client mqttClient, cfg MQTTConfig) *MQTTConn {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topic := strings.TrimSuffix(cfg.Topic, "/")
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTConn{client: client, topic: topic, qos: cfg.QoS, timeout: timeout, logger: logger}
}

// TopicFor returns the topic frames from producer are published to.
func (c *MQTTConn) TopicFor(producer string) string {
	return c.topic + "/" + topicSafe(producer, "/+#")
}

// Send implements streaming.Conn. It fails only when the client is
// connected and the publish still does not complete.
func (c *MQTTConn) Send(ctx context.Context, frame streaming.Frame) error {
	topic := c.TopicFor(frame.Message.Producer)
	if !c.client.IsConnectionOpen() {
		c.skip(topic, errors.New("not connected"))
		return nil
	}

	token := c.client.Publish(topic, c.qos, false, frame.Data)
	var err error
	select {
	case <-token.Done():
		err = token.Error()
	case <-ctx.Done():
		err = ctx.Err()
	case <-time.After(c.timeout):
		err = errors.New("timed out")
	}
	if err == nil {
		return nil
	}
	if !c.client.IsConnectionOpen() {
		c.skip(topic, err)
		return nil
	}
	return fmt.Errorf("mqtt publish %s: %w", topic, err)
}

// Skipped returns how many frames were not published because the client
// was offline.
func (c *MQTTConn) Skipped() int64 {
	return c.skipped.Load()
}

func (c *MQTTConn) skip(topic string, err error) {
	n := c.skipped.Add(1)
	c.logger.Debug("mqtt bridge offline, frame skipped",
		slog.String("topic", topic),
		slog.Int64("skipped", n),
		slog.String("error", err.Error()),
	)
}

// Close disconnects from the broker, allowing 250ms for in-flight work.
func (c *MQTTConn) Close() {
	c.client.Disconnect(250)
	c.logger.Debug("mqtt bridge disconnected")
}

var _ streaming.Conn = (*MQTTConn)(nil)
