// Package server exposes the executor over HTTP: action invocation,
// invocation records, and WebSocket and SSE subscriber endpoints.
package server

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/obwan02/Actionator/internal/engine"
)

// DefaultPrefix is the mount point of the action API.
const DefaultPrefix = "/api/v1"

// DefaultBodyLimit caps invocation payloads.
const DefaultBodyLimit = 1 << 20

// Deps holds the dependencies for the HTTP server.
type Deps struct {
	Executor  engine.Executor
	Logger    *slog.Logger
	Prefix    string       // API prefix, default /api/v1
	BodyLimit int64        // max request body bytes, default 1 MiB
	MCP       http.Handler // mounted at /mcp when non-nil
}

// Server routes HTTP requests to the executor.
type Server struct {
	deps    Deps
	started time.Time
}

// NewServer creates a Server, filling in defaults.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Prefix == "" {
		deps.Prefix = DefaultPrefix
	}
	deps.Prefix = "/" + strings.Trim(deps.Prefix, "/")
	if deps.BodyLimit <= 0 {
		deps.BodyLimit = DefaultBodyLimit
	}
	return &Server{deps: deps, started: time.Now()}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)

	// Subscriber streams.
	r.Get("/ws", s.handleWS)
	r.Get("/sse", s.handleSSE)

	r.Route(s.deps.Prefix, func(r chi.Router) {
		r.Get("/actions", s.handleListActions)
		r.Get("/invocations", s.handleListInvocations)
		r.Get("/invocations/{id}", s.handleGetInvocation)
		r.Post("/{name}", s.handleInvoke)
		r.Post("/{name}/submit", s.handleSubmit)
	})

	if s.deps.MCP != nil {
		r.Handle("/mcp", s.deps.MCP)
		r.Handle("/mcp/*", s.deps.MCP)
	}

	return r
}

// requestLogger logs one line per request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.deps.Logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
