package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/obwan02/Actionator/internal/actions"
	"github.com/obwan02/Actionator/internal/logging"
	"github.com/obwan02/Actionator/internal/store"
	"github.com/obwan02/Actionator/internal/streaming"
	"github.com/obwan02/Actionator/internal/validation"
	"github.com/obwan02/Actionator/pkg/schema"
)

// Executor is the entry point every transport uses to run actions.
type Executor interface {
	// Invoke decodes payload for the named action and runs it to completion
	// on the caller's goroutine. Unknown names fail with NOT_FOUND and bad
	// payloads with VALIDATION_ERROR before anything runs. When the action
	// itself fails the result is returned alongside the INVOCATION_ERROR.
	Invoke(ctx context.Context, name string, payload []byte) (*InvocationResult, error)

	// Submit validates synchronously, then runs the invocation on the worker
	// pool and returns its id. A saturated pool fails with QUEUE_FULL.
	Submit(ctx context.Context, name string, payload []byte) (string, error)

	// Status returns the persisted record of an invocation.
	Status(ctx context.Context, id string) (*store.Invocation, error)

	// List returns persisted invocation records, newest first.
	List(ctx context.Context, filter store.InvocationFilter) ([]*store.Invocation, error)

	// Actions describes every registered action.
	Actions() []actions.ActionInfo

	// OnSubscriberConnect adds conn to the broadcast set.
	OnSubscriberConnect(conn streaming.Conn)

	// OnSubscriberDisconnect removes conn from the broadcast set.
	OnSubscriberDisconnect(conn streaming.Conn)

	// Shutdown waits for submitted invocations and stops accepting new ones.
	Shutdown()

	Metrics() PoolMetrics
}

// InvocationResult is returned by Invoke with the invocation outcome.
type InvocationResult struct {
	ID          string                  `json:"id"`
	Action      string                  `json:"action"`
	Status      schema.InvocationStatus `json:"status"`
	Result      any                     `json:"result,omitempty"`
	Error       *schema.ActionatorError `json:"error,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt time.Time               `json:"completed_at"`
	DurationMs  int64                   `json:"duration_ms"`
}

// DefaultPoolSize is the default number of concurrently running submissions.
const DefaultPoolSize = 10

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	PoolSize int          // max concurrent submitted invocations
	Logger   *slog.Logger // nil = text handler on stderr
}

type executorImpl struct {
	registry   actions.ActionRegistry
	hub        streaming.Hub
	store      store.Store
	codec      validation.Decoder
	dispatcher *Dispatcher
	fsm        *InvocationFSM
	pool       *WorkerPool
	logger     *slog.Logger
	newID      func() string
}

// NewExecutor creates an Executor. st may be nil, in which case invocations
// are not recorded and Status always reports NOT_FOUND.
func NewExecutor(registry actions.ActionRegistry, hub streaming.Hub, st store.Store, cfg ExecutorConfig) Executor {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	var writer StatusWriter
	if st != nil {
		writer = st
	}

	return &executorImpl{
		registry:   registry,
		hub:        hub,
		store:      st,
		codec:      validation.NewCodec(),
		dispatcher: NewDispatcher(logger),
		fsm:        NewInvocationFSM(writer),
		pool: NewWorkerPool(cfg.PoolSize, func(r any) {
			logger.Error("submitted invocation panicked", slog.Any("panic", r))
		}),
		logger: logger,
		newID:  uuid.NewString,
	}
}

// invocation is one decoded request ready to run.
type invocation struct {
	id      string
	desc    *actions.Descriptor
	args    actions.Args
	payload []byte
}

func (e *executorImpl) prepare(ctx context.Context, name string, payload []byte) (*invocation, error) {
	desc, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	args, err := e.codec.Decode(desc, payload)
	if err != nil {
		return nil, err
	}

	inv := &invocation{id: e.newID(), desc: desc, args: args, payload: payload}
	if e.store != nil {
		rec := &store.Invocation{
			ID:      inv.id,
			Action:  desc.Name,
			Status:  schema.InvocationStatusPending,
			Source:  logging.Source(ctx),
			Payload: rawPayload(payload),
		}
		if err := e.store.CreateInvocation(ctx, rec); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "record invocation: %s", err.Error()).WithCause(err)
		}
	}
	return inv, nil
}

// Invoke runs the named action on the caller's goroutine.
func (e *executorImpl) Invoke(ctx context.Context, name string, payload []byte) (*InvocationResult, error) {
	inv, err := e.prepare(ctx, name, payload)
	if err != nil {
		return nil, err
	}
	res := e.run(ctx, inv)
	if res.Error != nil {
		return res, res.Error
	}
	return res, nil
}

// Submit runs the named action on the worker pool.
func (e *executorImpl) Submit(ctx context.Context, name string, payload []byte) (string, error) {
	inv, err := e.prepare(ctx, name, payload)
	if err != nil {
		return "", err
	}

	source := logging.Source(ctx)
	err = e.pool.TrySubmit(context.WithoutCancel(ctx), func(poolCtx context.Context) error {
		res := e.run(logging.WithSource(poolCtx, source), inv)
		if res.Error != nil {
			return res.Error
		}
		return nil
	})
	if err == nil {
		return inv.id, nil
	}

	var aerr *schema.ActionatorError
	switch {
	case errors.Is(err, ErrPoolBusy):
		aerr = schema.NewErrorf(schema.ErrCodeQueueFull, "no capacity to run %s", inv.desc.Name).WithCause(err)
	default:
		aerr = schema.NewErrorf(schema.ErrCodeInvocation, "cannot run %s: %s", inv.desc.Name, err.Error()).WithCause(err)
	}
	e.finish(ctx, inv.id, schema.InvocationStatusPending, nil, aerr)
	return "", aerr
}

// run drives one prepared invocation through running to a terminal state.
// Caller cancellation is not propagated into the action.
func (e *executorImpl) run(ctx context.Context, inv *invocation) *InvocationResult {
	ctx = logging.WithIDs(context.WithoutCancel(ctx), inv.desc.Name, inv.id)
	logger := e.logger

	started := time.Now().UTC()
	res := &InvocationResult{
		ID:        inv.id,
		Action:    inv.desc.Name,
		Status:    schema.InvocationStatusRunning,
		StartedAt: started,
	}

	if err := e.fsm.Transition(ctx, inv.id, schema.InvocationStatusPending, schema.InvocationStatusRunning, store.InvocationUpdate{}); err != nil {
		logger.WarnContext(ctx, "failed to record invocation start", slog.String("error", err.Error()))
	}
	logger.DebugContext(ctx, "invocation started", slog.String("convention", inv.desc.Convention.String()))

	out := streaming.NewOutput(e.hub, inv.desc.Name, logger)
	value, err := e.dispatcher.Invoke(ctx, inv.desc, inv.args, out)

	res.CompletedAt = time.Now().UTC()
	res.DurationMs = res.CompletedAt.Sub(started).Milliseconds()

	if err != nil {
		aerr := asActionatorError(err)
		res.Status = schema.InvocationStatusFailed
		res.Error = aerr
		e.finish(ctx, inv.id, schema.InvocationStatusRunning, nil, aerr)
		logger.WarnContext(ctx, "invocation failed",
			slog.String("code", aerr.Code),
			slog.String("error", aerr.Message),
			slog.Int64("duration_ms", res.DurationMs),
		)
		return res
	}

	res.Status = schema.InvocationStatusCompleted
	res.Result = value
	e.finish(ctx, inv.id, schema.InvocationStatusRunning, value, nil)
	logger.DebugContext(ctx, "invocation completed", slog.Int64("duration_ms", res.DurationMs))
	return res
}

// finish records the terminal state. Failures to persist are logged only.
func (e *executorImpl) finish(ctx context.Context, id string, from schema.InvocationStatus, value any, aerr *schema.ActionatorError) {
	to := schema.InvocationStatusCompleted
	var update store.InvocationUpdate
	if aerr != nil {
		to = schema.InvocationStatusFailed
		update.Error = &aerr.Message
		update.ErrorCode = &aerr.Code
	} else if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			e.logger.WarnContext(ctx, "invocation result is not JSON encodable", slog.String("error", err.Error()))
		} else {
			update.Result = raw
		}
	}
	if err := e.fsm.Transition(ctx, id, from, to, update); err != nil {
		e.logger.WarnContext(ctx, "failed to record invocation end",
			slog.String("invocation_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Status returns the persisted record of an invocation.
func (e *executorImpl) Status(ctx context.Context, id string) (*store.Invocation, error) {
	if e.store == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "invocation %q not found", id)
	}
	return e.store.GetInvocation(ctx, id)
}

// List returns persisted invocation records, newest first.
func (e *executorImpl) List(ctx context.Context, filter store.InvocationFilter) ([]*store.Invocation, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.ListInvocations(ctx, filter)
}

func (e *executorImpl) Actions() []actions.ActionInfo {
	return e.registry.List()
}

func (e *executorImpl) OnSubscriberConnect(conn streaming.Conn) {
	e.hub.Subscribe(conn)
}

func (e *executorImpl) OnSubscriberDisconnect(conn streaming.Conn) {
	e.hub.Unsubscribe(conn)
}

func (e *executorImpl) Shutdown() {
	e.pool.Shutdown()
}

func (e *executorImpl) Metrics() PoolMetrics {
	return e.pool.Metrics()
}

func asActionatorError(err error) *schema.ActionatorError {
	var aerr *schema.ActionatorError
	if errors.As(err, &aerr) {
		return aerr
	}
	return schema.NewError(schema.ErrCodeInvocation, err.Error()).WithCause(err)
}

// rawPayload keeps the request body for the record. An empty body is stored
// as absent.
func rawPayload(payload []byte) json.RawMessage {
	if len(payload) == 0 || !json.Valid(payload) {
		return nil
	}
	return json.RawMessage(payload)
}
