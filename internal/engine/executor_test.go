package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obwan02/Actionator/internal/actions"
	"github.com/obwan02/Actionator/internal/logging"
	"github.com/obwan02/Actionator/internal/store"
	"github.com/obwan02/Actionator/internal/streaming"
	"github.com/obwan02/Actionator/pkg/schema"
)

// memStore is an in-memory store.Store.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*store.Invocation
}

func newMemStore() *memStore { return &memStore{recs: make(map[string]*store.Invocation)} }

func (s *memStore) CreateInvocation(_ context.Context, inv *store.Invocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[inv.ID]; ok {
		return schema.NewError(schema.ErrCodeConflict, "duplicate")
	}
	cp := *inv
	cp.CreatedAt = time.Now().UTC()
	s.recs[inv.ID] = &cp
	return nil
}

func (s *memStore) GetInvocation(_ context.Context, id string) (*store.Invocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "invocation %q not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) UpdateInvocation(_ context.Context, id string, u store.InvocationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "invocation %q not found", id)
	}
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.Result != nil {
		rec.Result = u.Result
	}
	if u.Error != nil {
		rec.Error = *u.Error
	}
	if u.ErrorCode != nil {
		rec.ErrorCode = *u.ErrorCode
	}
	if u.StartedAt != nil {
		rec.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		rec.CompletedAt = u.CompletedAt
	}
	return nil
}

func (s *memStore) ListInvocations(_ context.Context, f store.InvocationFilter) ([]*store.Invocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Invocation
	for _, rec := range s.recs {
		if f.Action != "" && rec.Action != f.Action {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type echoArgs struct {
	Msg string `json:"msg"`
}

func newTestExecutor(t *testing.T, st store.Store, poolSize int) (Executor, *actions.Registry, *memHub) {
	t.Helper()
	reg := actions.NewRegistry()
	hub := &memHub{}
	e := NewExecutor(reg, hub, st, ExecutorConfig{PoolSize: poolSize})
	t.Cleanup(e.Shutdown)
	return e, reg, hub
}

func TestExecutor_ScenarioA_PlainCall(t *testing.T) {
	e, reg, hub := newTestExecutor(t, nil, 1)
	_, err := reg.Register(func(a addArgs) int { return a.A + a.B }, actions.WithName("add"))
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), "add", []byte(`{"a":2,"b":3}`))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Result)
	assert.Equal(t, schema.InvocationStatusCompleted, res.Status)
	assert.Equal(t, "add", res.Action)
	assert.NotEmpty(t, res.ID)
	assert.Empty(t, hub.Messages())
}

func TestExecutor_ScenarioA_EchoMessage(t *testing.T) {
	e, reg, hub := newTestExecutor(t, nil, 1)
	info, err := reg.Register(func(a echoArgs) string { return a.Msg }, actions.WithName("echo"))
	require.NoError(t, err)
	require.Len(t, info.Params, 1)
	assert.Equal(t, "msg", info.Params[0].Name)
	assert.Equal(t, actions.TypeString, info.Params[0].Type)

	res, err := e.Invoke(context.Background(), "echo", []byte(`{"msg":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Result)
	assert.Equal(t, schema.InvocationStatusCompleted, res.Status)
	assert.Empty(t, hub.Messages())
}

func TestExecutor_ScenarioB_OutputLine(t *testing.T) {
	e, reg, hub := newTestExecutor(t, nil, 1)
	_, err := reg.Register(func(_ echoArgs, out *streaming.Output) error {
		fmt.Fprint(out, "hello\n")
		return nil
	}, actions.WithName("hello"), actions.WithOutput())
	require.NoError(t, err)

	_, err = e.Invoke(context.Background(), "hello", []byte(`{"msg":""}`))
	require.NoError(t, err)
	assert.Equal(t, []schema.Message{schema.LineMessage("hello", schema.StreamStdout, "hello")}, hub.Messages())
}

func TestExecutor_ScenarioC_SyncStream(t *testing.T) {
	e, reg, hub := newTestExecutor(t, nil, 1)
	_, err := reg.Register(func(echoArgs) iter.Seq[string] {
		return func(yield func(string) bool) {
			_ = yield("a") && yield("b")
		}
	}, actions.WithName("letters"))
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), "letters", []byte(`{"msg":"x"}`))
	require.NoError(t, err)
	assert.Nil(t, res.Result)
	assert.Equal(t, []schema.Message{
		schema.StatusMessage("letters", "a"),
		schema.StatusMessage("letters", "b"),
	}, hub.Messages())
}

func TestExecutor_ScenarioE_ValidationError(t *testing.T) {
	e, reg, hub := newTestExecutor(t, newMemStore(), 1)
	called := false
	_, err := reg.Register(func(a echoArgs) string {
		called = true
		return a.Msg
	}, actions.WithName("echo"))
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), "echo", []byte(`{"msg":5}`))
	require.Error(t, err)
	assert.Nil(t, res)

	var aerr *schema.ActionatorError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, schema.ErrCodeValidation, aerr.Code)
	assert.Equal(t, "msg", aerr.Field)
	assert.False(t, called)
	assert.Empty(t, hub.Messages())

	recs, err := e.List(context.Background(), store.InvocationFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestExecutor_NotFound(t *testing.T) {
	e, _, _ := newTestExecutor(t, nil, 1)
	_, err := e.Invoke(context.Background(), "missing", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, err = e.Submit(context.Background(), "missing", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestExecutor_InvocationError(t *testing.T) {
	st := newMemStore()
	e, reg, _ := newTestExecutor(t, st, 1)
	_, err := reg.Register(func(echoArgs) (string, error) { return "", errors.New("out of cheese") }, actions.WithName("fail"))
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), "fail", []byte(`{"msg":"x"}`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvocation))
	require.NotNil(t, res)
	assert.Equal(t, schema.InvocationStatusFailed, res.Status)
	assert.Contains(t, res.Error.Message, "out of cheese")

	rec, err := e.Status(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.InvocationStatusFailed, rec.Status)
	assert.Equal(t, schema.ErrCodeInvocation, rec.ErrorCode)
	assert.NotNil(t, rec.CompletedAt)
}

func TestExecutor_StructuredActionErrorIsInvocationError(t *testing.T) {
	st := newMemStore()
	e, reg, _ := newTestExecutor(t, st, 1)
	_, err := reg.Register(func(echoArgs) (string, error) {
		return "", schema.NewError(schema.ErrCodeNotFound, "no such file").WithField("msg")
	}, actions.WithName("lookup"))
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), "lookup", []byte(`{"msg":"x"}`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvocation))
	assert.False(t, schema.IsCode(err, schema.ErrCodeNotFound))
	require.NotNil(t, res)
	assert.Equal(t, schema.ErrCodeNotFound, res.Error.Details["code"])

	rec, err := e.Status(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.InvocationStatusFailed, rec.Status)
	assert.Equal(t, schema.ErrCodeInvocation, rec.ErrorCode)
}

func TestExecutor_PanicBecomesInvocationError(t *testing.T) {
	e, reg, _ := newTestExecutor(t, nil, 1)
	_, err := reg.Register(func(echoArgs) string { panic("nil map") }, actions.WithName("crash"))
	require.NoError(t, err)

	_, err = e.Invoke(context.Background(), "crash", []byte(`{"msg":"x"}`))
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvocation))
}

func TestExecutor_DetachesCallerCancellation(t *testing.T) {
	e, reg, _ := newTestExecutor(t, nil, 1)
	_, err := reg.Register(func(ctx context.Context, _ echoArgs) error { return ctx.Err() }, actions.WithName("check_ctx"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Invoke(ctx, "check_ctx", []byte(`{"msg":"x"}`))
	assert.NoError(t, err)
}

func TestExecutor_RecordsInvocation(t *testing.T) {
	st := newMemStore()
	e, reg, _ := newTestExecutor(t, st, 1)
	_, err := reg.Register(func(a addArgs) int { return a.A * a.B }, actions.WithName("mul"))
	require.NoError(t, err)

	ctx := logging.WithSource(context.Background(), "http")
	res, err := e.Invoke(ctx, "mul", []byte(`{"a":4,"b":5}`))
	require.NoError(t, err)

	rec, err := e.Status(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "mul", rec.Action)
	assert.Equal(t, "http", rec.Source)
	assert.Equal(t, schema.InvocationStatusCompleted, rec.Status)
	assert.JSONEq(t, `{"a":4,"b":5}`, string(rec.Payload))
	assert.JSONEq(t, `20`, string(rec.Result))
	assert.NotNil(t, rec.StartedAt)
}

func TestExecutor_Submit(t *testing.T) {
	st := newMemStore()
	e, reg, hub := newTestExecutor(t, st, 2)
	_, err := reg.Register(func(ctx context.Context, _ echoArgs) <-chan string {
		ch := make(chan string, 2)
		ch <- "one"
		ch <- "two"
		close(ch)
		return ch
	}, actions.WithName("pair"))
	require.NoError(t, err)

	id, err := e.Submit(context.Background(), "pair", []byte(`{"msg":"x"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		rec, err := e.Status(context.Background(), id)
		return err == nil && rec.Status == schema.InvocationStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []schema.Message{
		schema.StatusMessage("pair", "one"),
		schema.StatusMessage("pair", "two"),
	}, hub.Messages())
	assert.Eventually(t, func() bool { return e.Metrics().Completed == 1 }, time.Second, 5*time.Millisecond)
}

func TestExecutor_SubmitQueueFull(t *testing.T) {
	st := newMemStore()
	e, reg, _ := newTestExecutor(t, st, 1)

	release := make(chan struct{})
	_, err := reg.Register(func(echoArgs) { <-release }, actions.WithName("block"))
	require.NoError(t, err)
	defer close(release)

	first, err := e.Submit(context.Background(), "block", []byte(`{"msg":"x"}`))
	require.NoError(t, err)
	require.NotEmpty(t, first)

	_, err = e.Submit(context.Background(), "block", []byte(`{"msg":"y"}`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeQueueFull))

	recs, err := e.List(context.Background(), store.InvocationFilter{Action: "block"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	var failed int
	for _, rec := range recs {
		if rec.Status == schema.InvocationStatusFailed {
			failed++
			assert.Equal(t, schema.ErrCodeQueueFull, rec.ErrorCode)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestExecutor_SubscriberHooks(t *testing.T) {
	e, _, hub := newTestExecutor(t, nil, 1)
	conn := streaming.NewChanConn(1)

	e.OnSubscriberConnect(conn)
	hub.mu.Lock()
	assert.True(t, hub.subs[conn])
	hub.mu.Unlock()

	e.OnSubscriberDisconnect(conn)
	hub.mu.Lock()
	assert.False(t, hub.subs[conn])
	hub.mu.Unlock()
}

func TestExecutor_StatusWithoutStore(t *testing.T) {
	e, reg, _ := newTestExecutor(t, nil, 1)
	_, err := reg.Register(func(echoArgs) {}, actions.WithName("noop"))
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), "noop", []byte(`{"msg":""}`))
	require.NoError(t, err)

	_, err = e.Status(context.Background(), res.ID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.Len(t, e.Actions(), 1)
}
