package streaming

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/obwan02/Actionator/pkg/schema"
)

// LineFramer reassembles arbitrary text writes into one line message per
// newline-terminated segment. Writes never block and never fail: a message
// the hub refuses is dropped and counted.
//
// Content after the last newline stays buffered and is discarded with the
// framer; it is never flushed as a message.
type LineFramer struct {
	producer string
	stream   schema.Stream
	pub      Publisher
	logger   *slog.Logger

	mu      sync.Mutex
	partial strings.Builder

	dropped atomic.Int64
}

// NewLineFramer creates a framer publishing as producer on stream.
func NewLineFramer(pub Publisher, producer string, stream schema.Stream, logger *slog.Logger) *LineFramer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LineFramer{
		producer: producer,
		stream:   stream,
		pub:      pub,
		logger:   logger,
	}
}

// Write implements io.Writer. It always reports the full length written.
func (f *LineFramer) Write(p []byte) (int, error) {
	f.WriteString(string(p))
	return len(p), nil
}

// WriteString appends s and publishes every line it completes.
func (f *LineFramer) WriteString(s string) (int, error) {
	n := len(s)

	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			f.partial.WriteString(s)
			return n, nil
		}
		line := s[:i]
		if f.partial.Len() > 0 {
			line = f.partial.String() + line
			f.partial.Reset()
		}
		f.publish(schema.LineMessage(f.producer, f.stream, strings.TrimSuffix(line, "\r")))
		s = s[i+1:]
	}
}

// WriteStatus publishes text as a single status message, bypassing the line
// buffer. Ordering relative to lines from this framer is preserved.
func (f *LineFramer) WriteStatus(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publish(schema.StatusMessage(f.producer, text))
}

// Buffered returns the unterminated content currently held.
func (f *LineFramer) Buffered() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.partial.String()
}

// Dropped returns how many messages the hub refused.
func (f *LineFramer) Dropped() int64 {
	return f.dropped.Load()
}

// publish must be called with f.mu held so messages leave in write order.
func (f *LineFramer) publish(msg schema.Message) {
	if err := f.pub.Publish(msg); err != nil {
		f.dropped.Add(1)
		f.logger.Debug("output message dropped",
			slog.String("producer", f.producer),
			slog.String("stream", string(msg.Stream)),
			slog.String("error", err.Error()),
		)
	}
}

// Output is the writable channel handed to an action that asks for one.
// Writing to it writes stdout; Stderr and Status cover the other streams.
type Output struct {
	producer string
	Stdout   *LineFramer
	Stderr   *LineFramer
}

// NewOutput creates the stdout and stderr framers for one invocation.
func NewOutput(pub Publisher, producer string, logger *slog.Logger) *Output {
	return &Output{
		producer: producer,
		Stdout:   NewLineFramer(pub, producer, schema.StreamStdout, logger),
		Stderr:   NewLineFramer(pub, producer, schema.StreamStderr, logger),
	}
}

// Producer returns the action name this output is bound to.
func (o *Output) Producer() string { return o.producer }

// Write implements io.Writer on the stdout stream.
func (o *Output) Write(p []byte) (int, error) { return o.Stdout.Write(p) }

// Status publishes one status item.
func (o *Output) Status(text string) { o.Stdout.WriteStatus(text) }
