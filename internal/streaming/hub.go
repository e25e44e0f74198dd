package streaming

import (
	"context"

	"github.com/obwan02/Actionator/pkg/schema"
)

// Frame is one message as handed to a subscriber: the decoded message for
// routing decisions and its JSON wire encoding, computed once per message.
type Frame struct {
	Message schema.Message
	Data    []byte
}

// Conn is a subscriber endpoint provided by a transport (WebSocket, SSE,
// MQTT, NATS, MCP). Conns are used as set members, so implementations must
// be comparable; pointer types are.
type Conn interface {
	Send(ctx context.Context, frame Frame) error
}

// Closer is implemented by conns that must learn when the hub drops them
// after a failed delivery. The goroutine serving such a conn should watch
// for the close and return.
type Closer interface {
	Close()
}

// Publisher accepts messages from producers. Publish never blocks.
type Publisher interface {
	Publish(msg schema.Message) error
}

// Hub fans published messages out to every current subscriber.
type Hub interface {
	Publisher
	Subscribe(conn Conn)
	Unsubscribe(conn Conn)
}
