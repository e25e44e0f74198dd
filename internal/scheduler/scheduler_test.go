package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obwan02/Actionator/internal/engine"
	"github.com/obwan02/Actionator/internal/logging"
)

// mockInvoker records Invoke calls.
type mockInvoker struct {
	mu    sync.Mutex
	calls []invokeCall
	err   error
	block chan struct{}
}

type invokeCall struct {
	Action  string
	Payload map[string]any
	Source  string
}

func (m *mockInvoker) Invoke(ctx context.Context, name string, payload []byte) (*engine.InvocationResult, error) {
	if m.block != nil {
		<-m.block
	}
	var p map[string]any
	_ = json.Unmarshal(payload, &p)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, invokeCall{Action: name, Payload: p, Source: logging.Source(ctx)})
	return &engine.InvocationResult{Action: name}, m.err
}

func (m *mockInvoker) Calls() []invokeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]invokeCall(nil), m.calls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCalculateNextRun(t *testing.T) {
	s := NewScheduler(&mockInvoker{}, testLogger())
	from := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 * * * *", time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 1, 15, 10, 45, 0, 0, time.UTC)},
		{"30 0 9 * * *", time.Date(2025, 1, 16, 9, 0, 30, 0, time.UTC)},
		{"@every 10s", from.Add(10 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := s.CalculateNextRun(tt.expr, from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := s.CalculateNextRun("not a cron", from)
	assert.Error(t, err)
}

func TestAdd_Validation(t *testing.T) {
	s := NewScheduler(&mockInvoker{}, testLogger())

	require.NoError(t, s.Add(Entry{Name: "tick", Action: "echo", Cron: "@every 1m"}))
	assert.Error(t, s.Add(Entry{Name: "tick", Action: "echo", Cron: "@every 1m"}), "duplicate name")
	assert.Error(t, s.Add(Entry{Name: "bad", Action: "echo", Cron: "61 * * * *"}))
	assert.Error(t, s.Add(Entry{Name: "noaction", Cron: "@hourly"}))

	require.NoError(t, s.Add(Entry{Action: "greet", Cron: "@hourly"}))
	names := map[string]bool{}
	for _, e := range s.Entries() {
		names[e.Name] = true
	}
	assert.Equal(t, map[string]bool{"tick": true, "greet": true}, names)
}

func TestRunEntry_PayloadAndSource(t *testing.T) {
	inv := &mockInvoker{}
	s := NewScheduler(inv, testLogger())

	ctx := logging.WithSource(context.Background(), "scheduler")
	err := s.runEntry(ctx, Entry{Name: "hello", Action: "greet", Payload: map[string]any{"name": "ada"}})
	require.NoError(t, err)

	err = s.runEntry(ctx, Entry{Name: "bare", Action: "echo"})
	require.NoError(t, err)

	calls := inv.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "greet", calls[0].Action)
	assert.Equal(t, map[string]any{"name": "ada"}, calls[0].Payload)
	assert.Equal(t, "scheduler", calls[0].Source)
	assert.Equal(t, map[string]any{}, calls[1].Payload)
}

func TestRunEntry_PropagatesError(t *testing.T) {
	inv := &mockInvoker{err: errors.New("boom")}
	s := NewScheduler(inv, testLogger())
	assert.EqualError(t, s.runEntry(context.Background(), Entry{Name: "x", Action: "x"}), "boom")
}

func TestRunEntry_DedupWhileInFlight(t *testing.T) {
	inv := &mockInvoker{block: make(chan struct{})}
	s := NewScheduler(inv, testLogger())
	e := Entry{Name: "slow", Action: "ticker"}

	done := make(chan error, 1)
	go func() { done <- s.runEntry(context.Background(), e) }()

	require.Eventually(t, func() bool {
		s.inflightMu.Lock()
		defer s.inflightMu.Unlock()
		_, ok := s.inflight["slow"]
		return ok
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.runEntry(context.Background(), e), errSkipped)

	close(inv.block)
	require.NoError(t, <-done)
	assert.Len(t, inv.Calls(), 1)

	// Released after the run completes.
	require.NoError(t, s.runEntry(context.Background(), e))
	assert.Len(t, inv.Calls(), 2)
}

func TestStartStop(t *testing.T) {
	inv := &mockInvoker{}
	s := NewScheduler(inv, testLogger())
	require.NoError(t, s.Add(Entry{Name: "fast", Action: "echo", Cron: "@every 1s", Payload: map[string]any{"msg": "hi"}}))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start")

	require.Eventually(t, func() bool { return len(inv.Calls()) > 0 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	calls := inv.Calls()
	assert.Equal(t, "echo", calls[0].Action)
	assert.Equal(t, "scheduler", calls[0].Source)
}

func TestStop_BoundedByTimeout(t *testing.T) {
	inv := &mockInvoker{block: make(chan struct{})}
	defer close(inv.block)
	s := NewScheduler(inv, testLogger())
	s.stopTimeout = 50 * time.Millisecond
	require.NoError(t, s.Add(Entry{Name: "forever", Action: "ticker", Cron: "@every 1s"}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return s.running() == 1 }, 3*time.Second, 20*time.Millisecond)

	start := time.Now()
	err := s.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 invocation(s) still running")
	assert.Less(t, time.Since(start), time.Second)
}
