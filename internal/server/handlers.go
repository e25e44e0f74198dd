package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/obwan02/Actionator/internal/logging"
	"github.com/obwan02/Actionator/internal/store"
	"github.com/obwan02/Actionator/pkg/schema"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"actions":    len(s.deps.Executor.Actions()),
		"pool":       s.deps.Executor.Metrics(),
		"uptime_sec": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Executor.Actions())
}

// handleInvoke runs an action and replies with its result.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, s.deps.BodyLimit)
	if !ok {
		return
	}

	ctx := logging.WithSource(r.Context(), "http")
	res, err := s.deps.Executor.Invoke(ctx, chi.URLParam(r, "name"), body)
	if err != nil {
		aerr := asError(err)
		if res != nil {
			writeJSON(w, statusFor(aerr.Code), map[string]any{"error": aerr, "invocation": res})
			return
		}
		writeError(w, aerr)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSubmit queues an action and replies with the invocation id.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, s.deps.BodyLimit)
	if !ok {
		return
	}

	ctx := logging.WithSource(r.Context(), "http")
	id, err := s.deps.Executor.Submit(ctx, chi.URLParam(r, "name"), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(schema.InvocationStatusPending),
	})
}

func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.deps.Executor.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleListInvocations accepts action, status, since (RFC 3339), limit and
// offset query parameters.
func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.InvocationFilter{Action: q.Get("action"), Limit: 50}

	if v := q.Get("status"); v != "" {
		st := schema.InvocationStatus(v)
		filter.Status = &st
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "invalid since %q", v).WithField("since"))
			return
		}
		filter.Since = &t
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "invalid %s %q", name, v).WithField(name))
			return
		}
		*dst = n
	}

	invs, err := s.deps.Executor.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if invs == nil {
		invs = []*store.Invocation{}
	}
	writeJSON(w, http.StatusOK, invs)
}
