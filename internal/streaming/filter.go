package streaming

import (
	"context"

	"github.com/obwan02/Actionator/pkg/schema"
)

// Filter decides whether a message should reach a subscriber.
type Filter interface {
	Match(ctx context.Context, msg schema.Message) (bool, error)
}

// FilteredConn forwards only the frames its filter accepts. A filter that
// fails to evaluate for a message counts as a non-match.
type FilteredConn struct {
	next   Conn
	filter Filter
}

// NewFilteredConn wraps next. A nil filter forwards everything.
func NewFilteredConn(next Conn, filter Filter) *FilteredConn {
	return &FilteredConn{next: next, filter: filter}
}

// Send implements Conn.
func (c *FilteredConn) Send(ctx context.Context, frame Frame) error {
	if c.filter != nil {
		ok, err := c.filter.Match(ctx, frame.Message)
		if err != nil || !ok {
			return nil
		}
	}
	return c.next.Send(ctx, frame)
}

// Close closes the wrapped conn when it implements Closer.
func (c *FilteredConn) Close() {
	if next, ok := c.next.(Closer); ok {
		next.Close()
	}
}

// Unwrap returns the wrapped conn.
func (c *FilteredConn) Unwrap() Conn { return c.next }

var (
	_ Conn   = (*FilteredConn)(nil)
	_ Closer = (*FilteredConn)(nil)
)
