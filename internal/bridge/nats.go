package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/obwan02/Actionator/internal/streaming"
)

// DefaultNATSSubject is the subject prefix used when none is configured.
const DefaultNATSSubject = "actionator"

// publisher is the part of *nats.Conn the bridge uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConn publishes every frame to <subject>.<producer>.
type NATSConn struct {
	pub     publisher
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// DialNATS connects to url and returns a conn ready to subscribe.
func DialNATS(url, subject string, logger *slog.Logger) (*NATSConn, error) {
	nc, err := nats.Connect(url, nats.Name("actionator"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	c := newNATSConn(nc, subject, logger)
	c.nc = nc
	c.logger.Info("nats bridge connected", slog.String("url", url), slog.String("subject", c.subject))
	return c, nil
}

func newNATSConn(pub publisher, subject string, logger *slog.Logger) *NATSConn {
	if logger == nil {
		logger = slog.Default()
	}
	subject = strings.TrimSuffix(subject, ".")
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSConn{pub: pub, subject: subject, logger: logger}
}

// SubjectFor returns the subject frames from producer are published to.
func (c *NATSConn) SubjectFor(producer string) string {
	return c.subject + "." + topicSafe(producer, ".*> \t")
}

// Send implements streaming.Conn. Core NATS publishes are buffered by the
// client, so ctx is only checked up front.
func (c *NATSConn) Send(ctx context.Context, frame streaming.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := c.SubjectFor(frame.Message.Producer)
	if err := c.pub.Publish(subject, frame.Data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection when the conn owns one.
func (c *NATSConn) Close() {
	if c.nc == nil {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.logger.Warn("nats drain failed", slog.String("error", err.Error()))
		c.nc.Close()
	}
}

var _ streaming.Conn = (*NATSConn)(nil)
