package streaming

import (
	"context"
	"errors"
	"sync"
)

const defaultChanConnBuffer = 64

// ErrConnClosed is returned by Send after the conn has been closed.
var ErrConnClosed = errors.New("subscriber connection closed")

// ChanConn is a Conn backed by a buffered channel. Transports that write on
// their own goroutine (SSE, tests) read frames from Frames.
type ChanConn struct {
	ch        chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewChanConn creates a ChanConn. A non-positive buffer uses the default.
func NewChanConn(buffer int) *ChanConn {
	if buffer <= 0 {
		buffer = defaultChanConnBuffer
	}
	return &ChanConn{
		ch:   make(chan Frame, buffer),
		done: make(chan struct{}),
	}
}

// Send queues frame, waiting for buffer space until ctx is done.
func (c *ChanConn) Send(ctx context.Context, frame Frame) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.ch <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Frames returns the channel frames are delivered on. It is never closed;
// readers select on Done as well.
func (c *ChanConn) Frames() <-chan Frame {
	return c.ch
}

// Done is closed once Close has been called.
func (c *ChanConn) Done() <-chan struct{} {
	return c.done
}

// Close makes every further Send fail. Safe to call more than once.
func (c *ChanConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

var (
	_ Conn   = (*ChanConn)(nil)
	_ Closer = (*ChanConn)(nil)
)
