package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/obwan02/Actionator/internal/streaming"
)

// notificationSender is the part of server.MCPServer the conn needs.
type notificationSender interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

// NotificationConn is a hub subscriber that forwards every message to all
// MCP sessions as a notifications/message log entry. The producing action
// is the logger name and the message record is the data.
type NotificationConn struct {
	sender   notificationSender
	sessions *SessionRegistry
}

// NewNotificationConn creates a conn pushing through srv.
func NewNotificationConn(srv *Server) *NotificationConn {
	return &NotificationConn{sender: srv.mcpServer, sessions: srv.sessions}
}

// Send implements streaming.Conn. Delivery is best-effort: sessions whose
// notification channel is full miss the message.
func (c *NotificationConn) Send(_ context.Context, frame streaming.Frame) error {
	if c.sessions != nil && c.sessions.Count() == 0 {
		return nil
	}
	msg := frame.Message
	c.sender.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  "info",
		"logger": msg.Producer,
		"data": map[string]any{
			"producer": msg.Producer,
			"kind":     string(msg.Kind),
			"stream":   string(msg.Stream),
			"payload":  msg.Payload,
		},
	})
	return nil
}

var (
	_ streaming.Conn     = (*NotificationConn)(nil)
	_ notificationSender = (*server.MCPServer)(nil)
)
