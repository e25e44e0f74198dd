package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obwan02/Actionator/internal/streaming"
	"github.com/obwan02/Actionator/pkg/schema"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startBroker runs an in-process MQTT broker and returns its URL.
func startBroker(t *testing.T) string {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))

	broker := mqttserver.New(nil)
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{ID: "t1", Address: addr})))
	go func() { _ = broker.Serve() }()
	t.Cleanup(func() { _ = broker.Close() })

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
	return "tcp://" + addr
}

type received struct {
	topic   string
	payload string
}

func subscribe(t *testing.T, url, filter string) <-chan received {
	t.Helper()
	opts := mqtt.NewClientOptions().AddBroker(url).SetClientID("test-subscriber")
	client := mqtt.NewClient(opts)
	tok := client.Connect()
	require.True(t, tok.WaitTimeout(2*time.Second))
	require.NoError(t, tok.Error())
	t.Cleanup(func() { client.Disconnect(0) })

	out := make(chan received, 16)
	tok = client.Subscribe(filter, 1, func(_ mqtt.Client, msg mqtt.Message) {
		out <- received{topic: msg.Topic(), payload: string(msg.Payload())}
	})
	require.True(t, tok.WaitTimeout(2*time.Second))
	require.NoError(t, tok.Error())
	return out
}

func TestMQTTConn_PublishesPerProducer(t *testing.T) {
	url := startBroker(t)
	got := subscribe(t, url, "actionator/#")

	conn, err := DialMQTT(MQTTConfig{Broker: url, QoS: 1})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	msg := schema.LineMessage("greet", schema.StreamStdout, "hello, ada")
	frame := streaming.Frame{Message: msg, Data: []byte(`{"producer":"greet","kind":"line","stream":"stdout","payload":"hello, ada"}`)}
	require.NoError(t, conn.Send(context.Background(), frame))

	select {
	case r := <-got:
		assert.Equal(t, "actionator/greet", r.topic)
		assert.JSONEq(t, string(frame.Data), r.payload)
	case <-time.After(3 * time.Second):
		t.Fatal("message not received")
	}
}

func TestMQTTConn_ThroughHub(t *testing.T) {
	url := startBroker(t)
	got := subscribe(t, url, "jobs/+")

	conn, err := DialMQTT(MQTTConfig{Broker: url, Topic: "jobs/", QoS: 1})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	hub := streaming.NewBroadcastHub(streaming.HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub.Start(ctx)
	hub.Subscribe(conn)

	require.NoError(t, hub.Publish(schema.StatusMessage("countdown", "3")))

	select {
	case r := <-got:
		assert.Equal(t, "jobs/countdown", r.topic)
		assert.Contains(t, r.payload, `"payload":"3"`)
	case <-time.After(3 * time.Second):
		t.Fatal("message not received")
	}
}

// doneToken is an already completed mqtt.Token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// flakyClient is an mqtt client whose connection can be toggled.
type flakyClient struct {
	open    atomic.Bool
	failErr error

	mu     sync.Mutex
	topics []string
}

func (c *flakyClient) Publish(topic string, _ byte, _ bool, _ interface{}) mqtt.Token {
	if !c.open.Load() {
		return doneToken{err: errors.New("not Connected")}
	}
	if c.failErr != nil {
		return doneToken{err: c.failErr}
	}
	c.mu.Lock()
	c.topics = append(c.topics, topic)
	c.mu.Unlock()
	return doneToken{}
}

func (c *flakyClient) IsConnectionOpen() bool { return c.open.Load() }
func (c *flakyClient) Disconnect(uint)        {}

func (c *flakyClient) published() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

func TestMQTTConn_OutageKeepsSubscription(t *testing.T) {
	client := &flakyClient{}
	conn := newMQTTConn(client, MQTTConfig{})

	hub := streaming.NewBroadcastHub(streaming.HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub.Subscribe(conn)
	require.True(t, hub.Start(ctx))

	require.NoError(t, hub.Publish(schema.LineMessage("lost", schema.StreamStdout, "x")))
	require.Eventually(t, func() bool { return conn.Skipped() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.SubscriberCount())

	client.open.Store(true)
	require.NoError(t, hub.Publish(schema.LineMessage("back", schema.StreamStdout, "y")))
	require.Eventually(t, func() bool { return len(client.published()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"actionator/back"}, client.published())
	assert.Equal(t, int64(1), conn.Skipped())
	assert.Equal(t, 1, hub.SubscriberCount())
}

func TestMQTTConn_PublishErrorWhileConnected(t *testing.T) {
	client := &flakyClient{failErr: errors.New("payload too large")}
	client.open.Store(true)
	conn := newMQTTConn(client, MQTTConfig{})

	err := conn.Send(context.Background(), streaming.Frame{Message: schema.LineMessage("p", schema.StreamStdout, "x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload too large")
	assert.Zero(t, conn.Skipped())
}

func TestMQTTConn_TopicFor(t *testing.T) {
	c := newMQTTConn(nil, MQTTConfig{})
	assert.Equal(t, "actionator/echo", c.TopicFor("echo"))
	assert.Equal(t, "actionator/a_b_c_", c.TopicFor("a/b+c#"))
	assert.Equal(t, "actionator/_", c.TopicFor(""))
}

func TestDialMQTT_Errors(t *testing.T) {
	_, err := DialMQTT(MQTTConfig{})
	assert.Error(t, err)

	_, err = DialMQTT(MQTTConfig{Broker: fmt.Sprintf("tcp://127.0.0.1:%d", freePort(t)), Timeout: 500 * time.Millisecond})
	assert.Error(t, err)
}
