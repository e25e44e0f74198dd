package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/obwan02/Actionator/internal/engine"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Executor engine.Executor
	Logger   *slog.Logger
	Version  string
}

// Server exposes every registered action as an MCP tool, plus tools for
// reading invocation records.
type Server struct {
	executor  engine.Executor
	logger    *slog.Logger
	sessions  *SessionRegistry
	mcpServer *server.MCPServer
}

// NewServer creates a Server with one tool per action known to the executor
// at construction time.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		executor: deps.Executor,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Add(session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"actionator",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Actionator exposes backend actions as tools. Each action tool takes the action's "+
			"argument record. Action output is pushed as notifications/message; use actionator.status and "+
			"actionator.invocations to read invocation records."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve runs the stdio transport until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns the streamable HTTP transport, served at /mcp.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath("/mcp"))
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the registry of connected MCP sessions.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}
