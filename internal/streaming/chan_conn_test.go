package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/obwan02/Actionator/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type producerFilter string

func (p producerFilter) Match(_ context.Context, m schema.Message) (bool, error) {
	return m.Producer == string(p), nil
}

func TestChanConn_SendAndClose(t *testing.T) {
	c := NewChanConn(1)
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, Frame{Message: msg("p", "a")}))

	// Buffer full: the send waits until its deadline.
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Send(tctx, Frame{}), context.DeadlineExceeded)

	got := <-c.Frames()
	assert.Equal(t, "a", got.Message.Payload)

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Send(ctx, Frame{}), ErrConnClosed)
	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestFilteredConn(t *testing.T) {
	inner := NewChanConn(4)
	c := NewFilteredConn(inner, producerFilter("echo"))
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, Frame{Message: msg("greet", "skip")}))
	require.NoError(t, c.Send(ctx, Frame{Message: msg("echo", "keep")}))

	require.Len(t, inner.Frames(), 1)
	assert.Equal(t, "keep", (<-inner.Frames()).Message.Payload)
	assert.Same(t, inner, c.Unwrap())

	all := NewFilteredConn(inner, nil)
	require.NoError(t, all.Send(ctx, Frame{Message: msg("any", "x")}))
	assert.Len(t, inner.Frames(), 1)
}

func TestFilteredConn_CloseReachesInner(t *testing.T) {
	inner := NewChanConn(1)
	NewFilteredConn(inner, producerFilter("echo")).Close()
	assert.ErrorIs(t, inner.Send(context.Background(), Frame{}), ErrConnClosed)

	// A wrapped conn without Close is left alone.
	NewFilteredConn(&recordingConn{}, nil).Close()
}
