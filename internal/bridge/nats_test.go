package bridge

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obwan02/Actionator/internal/streaming"
	"github.com/obwan02/Actionator/pkg/schema"
)

type published struct {
	subject string
	data    string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, string(data)})
	return nil
}

func TestNATSConn_Send(t *testing.T) {
	pub := &fakePublisher{}
	conn := newNATSConn(pub, "events.", nil)

	frame := streaming.Frame{Message: schema.StatusMessage("countdown", "liftoff"), Data: []byte(`{"payload":"liftoff"}`)}
	require.NoError(t, conn.Send(context.Background(), frame))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "events.countdown", pub.msgs[0].subject)
	assert.Equal(t, `{"payload":"liftoff"}`, pub.msgs[0].data)
}

func TestNATSConn_SubjectFor(t *testing.T) {
	conn := newNATSConn(&fakePublisher{}, "", nil)
	assert.Equal(t, "actionator.echo", conn.SubjectFor("echo"))
	assert.Equal(t, "actionator.a_b_c", conn.SubjectFor("a.b*c"))
	assert.Equal(t, "actionator._", conn.SubjectFor(""))
}

func TestNATSConn_Errors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection closed")}
	conn := newNATSConn(pub, "x", nil)
	frame := streaming.Frame{Message: schema.StatusMessage("echo", "hi")}

	err := conn.Send(context.Background(), frame)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x.echo")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, newNATSConn(&fakePublisher{}, "x", nil).Send(ctx, frame), context.Canceled)

	// Close without an owned connection is a no-op.
	conn.Close()
}

// TestNATSConn_Live runs against a real server when NATS_URL is set.
func TestNATSConn_Live(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	ch := make(chan *nats.Msg, 4)
	s, err := sub.ChanSubscribe("actionator-test.>", ch)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Unsubscribe() })
	require.NoError(t, sub.Flush())

	conn, err := DialNATS(url, "actionator-test", nil)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	frame := streaming.Frame{Message: schema.StatusMessage("echo", "hi"), Data: []byte(`"hi"`)}
	require.NoError(t, conn.Send(context.Background(), frame))

	select {
	case m := <-ch:
		assert.Equal(t, "actionator-test.echo", m.Subject)
	case <-time.After(3 * time.Second):
		t.Fatal("message not received")
	}
}
