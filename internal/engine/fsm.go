package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/obwan02/Actionator/internal/store"
	"github.com/obwan02/Actionator/pkg/schema"
)

// TransitionHook is called before or after an invocation state transition.
// A before hook returning an error aborts the transition.
type TransitionHook func(ctx context.Context, invocationID string, from, to schema.InvocationStatus) error

// StatusWriter persists invocation state. Satisfied by store.Store.
type StatusWriter interface {
	UpdateInvocation(ctx context.Context, id string, update store.InvocationUpdate) error
}

type hookKey struct {
	from, to schema.InvocationStatus
}

// InvocationFSM validates invocation lifecycle transitions
// (pending → running → completed | failed) and writes each one through.
type InvocationFSM struct {
	writer StatusWriter
	now    func() time.Time

	mu     sync.RWMutex
	before map[hookKey][]TransitionHook
	after  map[hookKey][]TransitionHook
}

// NewInvocationFSM creates an FSM writing through w. A nil writer only
// validates transitions.
func NewInvocationFSM(w StatusWriter) *InvocationFSM {
	return &InvocationFSM{
		writer: w,
		now:    func() time.Time { return time.Now().UTC() },
		before: make(map[hookKey][]TransitionHook),
		after:  make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *InvocationFSM) OnBefore(from, to schema.InvocationStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition has been written.
func (f *InvocationFSM) OnAfter(from, to schema.InvocationStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from → to and persists it together with update.
// Entering running stamps StartedAt; entering a terminal state stamps
// CompletedAt.
func (f *InvocationFSM) Transition(ctx context.Context, id string, from, to schema.InvocationStatus, update store.InvocationUpdate) error {
	if !IsValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid invocation transition: %s -> %s", from, to).
			WithDetails(map[string]any{"invocation_id": id, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}
	f.mu.RLock()
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	f.mu.RUnlock()

	for _, hook := range before {
		if err := hook(ctx, id, from, to); err != nil {
			return err
		}
	}

	if f.writer != nil {
		now := f.now()
		update.Status = &to
		if to == schema.InvocationStatusRunning {
			update.StartedAt = &now
		}
		if to.Terminal() {
			update.CompletedAt = &now
		}
		if err := f.writer.UpdateInvocation(ctx, id, update); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "persist invocation %s: %s", to, err.Error()).WithCause(err)
		}
	}

	for _, hook := range after {
		if err := hook(ctx, id, from, to); err != nil {
			return err
		}
	}
	return nil
}

// IsValidTransition reports whether from → to is allowed.
func IsValidTransition(from, to schema.InvocationStatus) bool {
	return slices.Contains(ValidInvocationTransitions[from], to)
}

// ValidInvocationTransitions defines the allowed state transitions for invocations.
// pending → failed covers invocations that never start (pool rejected them).
var ValidInvocationTransitions = map[schema.InvocationStatus][]schema.InvocationStatus{
	schema.InvocationStatusPending:   {schema.InvocationStatusRunning, schema.InvocationStatusFailed},
	schema.InvocationStatusRunning:   {schema.InvocationStatusCompleted, schema.InvocationStatusFailed},
	schema.InvocationStatusCompleted: {},
	schema.InvocationStatusFailed:    {},
}
