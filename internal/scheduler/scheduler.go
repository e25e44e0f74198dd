package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/obwan02/Actionator/internal/engine"
	"github.com/obwan02/Actionator/internal/logging"
)

// DefaultStopTimeout bounds how long Stop waits for running invocations.
const DefaultStopTimeout = 10 * time.Second

// Invoker runs an action by name. Satisfied by engine.Executor.
type Invoker interface {
	Invoke(ctx context.Context, name string, payload []byte) (*engine.InvocationResult, error)
}

// Entry is one scheduled invocation.
type Entry struct {
	Name    string         `json:"name" yaml:"name"`
	Action  string         `json:"action" yaml:"action"`
	Cron    string         `json:"cron" yaml:"cron"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Scheduler invokes actions on cron schedules. A tick is skipped while the
// previous run of the same entry is still in flight.
type Scheduler struct {
	invoker     Invoker
	parser      cron.Parser
	logger      *slog.Logger
	stopTimeout time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]Entry
	cancel  context.CancelFunc
	runCtx  context.Context

	inflightMu sync.Mutex
	inflight   map[string]struct{} // entry names currently executing
}

// NewScheduler creates a Scheduler. Cron expressions take five fields with
// an optional leading seconds field, or a descriptor such as "@every 30s".
func NewScheduler(inv Invoker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		invoker:     inv,
		parser:      parser,
		logger:      logger,
		stopTimeout: DefaultStopTimeout,
		cron:        cron.New(cron.WithParser(parser)),
		entries:     make(map[string]Entry),
		inflight:    make(map[string]struct{}),
	}
}

// Add registers an entry. Entries may be added before or after Start.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" {
		e.Name = e.Action
	}
	if e.Action == "" {
		return fmt.Errorf("schedule %q: action is required", e.Name)
	}
	sched, err := s.parser.Parse(e.Cron)
	if err != nil {
		return fmt.Errorf("schedule %q: parse cron expression %q: %w", e.Name, e.Cron, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Name]; ok {
		return fmt.Errorf("schedule %q already exists", e.Name)
	}
	s.entries[e.Name] = e
	s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(e.Name) }))
	return nil
}

// Entries returns the registered entries.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Start launches the cron runner. Runs stop being started once ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(logging.WithSource(ctx, "scheduler"))
	s.cancel = cancel
	s.runCtx = runCtx
	s.cron.Start()

	go func() {
		<-runCtx.Done()
		s.cron.Stop()
	}()

	s.logger.Info("scheduler started", slog.Int("entries", len(s.entries)))
	return nil
}

// Stop halts the runner and waits for running invocations to return, for at
// most DefaultStopTimeout. Invocations still running after that are left to
// finish on their own and Stop reports an error.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.cancel = nil
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-time.After(s.stopTimeout):
		running := s.running()
		s.logger.Warn("scheduler stop timed out",
			slog.Duration("timeout", s.stopTimeout),
			slog.Int("running", running),
		)
		return fmt.Errorf("scheduler stop: %d invocation(s) still running after %s", running, s.stopTimeout)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	ctx := s.runCtx
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok || ctx == nil || ctx.Err() != nil {
		return
	}
	if err := s.runEntry(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "scheduled invocation failed",
			slog.String("schedule", e.Name),
			slog.String("error", err.Error()),
		)
	}
}

// errSkipped reports a tick dropped because the previous run is still going.
var errSkipped = errors.New("previous run still in flight")

func (s *Scheduler) runEntry(ctx context.Context, e Entry) error {
	if !s.tryAcquire(e.Name) {
		s.logger.DebugContext(ctx, "schedule tick skipped", slog.String("schedule", e.Name))
		return errSkipped
	}
	defer s.release(e.Name)

	payload := []byte("{}")
	if len(e.Payload) > 0 {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		payload = raw
	}

	s.logger.InfoContext(ctx, "running scheduled invocation",
		slog.String("schedule", e.Name),
		slog.String("action", e.Action),
	)
	_, err := s.invoker.Invoke(ctx, e.Action, payload)
	return err
}

func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) running() int {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	return len(s.inflight)
}

func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}
