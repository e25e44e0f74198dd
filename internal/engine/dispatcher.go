package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"reflect"
	"runtime/debug"

	"github.com/obwan02/Actionator/internal/actions"
	"github.com/obwan02/Actionator/internal/streaming"
	"github.com/obwan02/Actionator/pkg/schema"
)

// Dispatcher runs one decoded invocation according to the descriptor's
// calling convention. Stream items are published as status messages through
// the invocation's Output.
type Dispatcher struct {
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher. A nil logger falls back to stderr.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Dispatcher{logger: logger}
}

// Invoke calls the action and drives its result to completion. Stream
// conventions return a nil result once the sequence is exhausted. Errors
// raised by the action, including panics, come back as INVOCATION_ERROR.
// Output already published is never retracted.
func (d *Dispatcher) Invoke(ctx context.Context, desc *actions.Descriptor, args actions.Args, out *streaming.Output) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "action panicked",
				slog.String("action", desc.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			err = schema.NewErrorf(schema.ErrCodeInvocation, "action %s panicked: %v", desc.Name, r).
				WithDetails(map[string]any{"action": desc.Name})
		}
	}()

	if out == nil && (desc.WantsOutput || desc.Convention == actions.SyncStream || desc.Convention == actions.AsyncStream) {
		return nil, schema.NewErrorf(schema.ErrCodeInvocation, "action %s needs an output channel", desc.Name)
	}

	v, err := desc.Call(ctx, args, out)
	if err != nil {
		return nil, invocationError(desc.Name, err)
	}

	switch desc.Convention {
	case actions.Call:
		return v, nil

	case actions.AsyncCall:
		aw, ok := v.(actions.Awaitable)
		if !ok || isNil(aw) {
			return nil, nil
		}
		res, err := aw.Await(ctx)
		if err != nil {
			return nil, invocationError(desc.Name, err)
		}
		return res, nil

	case actions.SyncStream:
		seq, _ := v.(iter.Seq[string])
		if seq == nil {
			return nil, nil
		}
		for item := range seq {
			out.Status(item)
			if err := ctx.Err(); err != nil {
				return nil, invocationError(desc.Name, err)
			}
		}
		return nil, nil

	case actions.AsyncStream:
		ch, _ := v.(<-chan string)
		if ch == nil {
			return nil, nil
		}
		for {
			select {
			case item, ok := <-ch:
				if !ok {
					return nil, nil
				}
				out.Status(item)
			case <-ctx.Done():
				return nil, invocationError(desc.Name, ctx.Err())
			}
		}

	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvocation, "action %s: unknown calling convention %d", desc.Name, desc.Convention)
	}
}

// invocationError wraps a failure raised by the action body as
// INVOCATION_ERROR. A structured error's own code and field move into the
// details so they cannot be mistaken for a pre-invocation rejection.
func invocationError(action string, err error) error {
	details := map[string]any{"action": action}
	var aerr *schema.ActionatorError
	if errors.As(err, &aerr) {
		if aerr.Code == schema.ErrCodeInvocation {
			return aerr
		}
		details["code"] = aerr.Code
		if aerr.Field != "" {
			details["field"] = aerr.Field
		}
	}
	return schema.NewError(schema.ErrCodeInvocation, fmt.Sprintf("action %s failed: %s", action, err.Error())).
		WithCause(err).
		WithDetails(details)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.Func, reflect.Map, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
