package actions

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/obwan02/Actionator/internal/streaming"
)

// EchoArgs is the argument record of Echo and DelayedEcho.
type EchoArgs struct {
	Msg     string `json:"msg"`
	DelayMs int    `json:"delay_ms,omitempty"`
}

// Echo returns its message.
func Echo(args EchoArgs) string {
	return args.Msg
}

// GreetArgs is the argument record of Greet.
type GreetArgs struct {
	Name    string `json:"name"`
	Excited bool   `json:"excited,omitempty"`
}

// Greet writes a greeting line to its output and returns it.
func Greet(args GreetArgs, out *streaming.Output) (string, error) {
	if strings.TrimSpace(args.Name) == "" {
		return "", fmt.Errorf("name must not be blank")
	}
	greeting := "hello, " + args.Name
	if args.Excited {
		greeting += "!"
	}
	fmt.Fprintln(out, greeting)
	return greeting, nil
}

// CountdownArgs is the argument record of Countdown.
type CountdownArgs struct {
	From    int `json:"from"`
	DelayMs int `json:"delay_ms,omitempty"`
}

// Countdown yields From down to 1 followed by "liftoff".
func Countdown(args CountdownArgs) (iter.Seq[string], error) {
	if args.From < 0 {
		return nil, fmt.Errorf("from must not be negative, got %d", args.From)
	}
	delay := time.Duration(args.DelayMs) * time.Millisecond
	return func(yield func(string) bool) {
		for i := args.From; i > 0; i-- {
			if !yield(strconv.Itoa(i)) {
				return
			}
			if delay > 0 {
				time.Sleep(delay)
			}
		}
		yield("liftoff")
	}, nil
}

// TickerArgs is the argument record of Ticker. A zero Count ticks until the
// context ends.
type TickerArgs struct {
	IntervalMs int `json:"interval_ms"`
	Count      int `json:"count,omitempty"`
}

// Ticker emits "tick N" every interval on its own goroutine.
func Ticker(ctx context.Context, args TickerArgs) (<-chan string, error) {
	if args.IntervalMs <= 0 {
		return nil, fmt.Errorf("interval_ms must be positive, got %d", args.IntervalMs)
	}
	ch := make(chan string)
	go func() {
		defer close(ch)
		t := time.NewTicker(time.Duration(args.IntervalMs) * time.Millisecond)
		defer t.Stop()
		for n := 1; args.Count == 0 || n <= args.Count; n++ {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			select {
			case ch <- "tick " + strconv.Itoa(n):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// DelayedEcho resolves to its message after DelayMs.
func DelayedEcho(ctx context.Context, args EchoArgs) *Future[string] {
	return Go(ctx, func(ctx context.Context) (string, error) {
		select {
		case <-time.After(time.Duration(args.DelayMs) * time.Millisecond):
			return args.Msg, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
}

type builtin struct {
	fn   any
	opts []Option
}

// BuiltinConfig configures the optional built-in actions.
type BuiltinConfig struct {
	Shell ShellConfig
}

// RegisterBuiltins registers the built-in demo actions in the given registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	builtins := []builtin{
		{Echo, []Option{WithDescription("Return the given message")}},
		{Greet, []Option{WithOutput(), WithDescription("Write a greeting to the output stream")}},
		{Countdown, []Option{WithDescription("Count down to liftoff, one status item per step")}},
		{Ticker, []Option{WithDescription("Emit a tick every interval; count 0 runs forever")}},
		{DelayedEcho, []Option{WithDescription("Return the given message after a delay")}},
	}
	if cfg.Shell.Enabled {
		runner := newShellRunner(cfg.Shell)
		builtins = append(builtins, builtin{runner.Run, []Option{WithName("run"), WithOutput(), WithDescription("Run a command, streaming its stdout and stderr")}})
	}

	for _, b := range builtins {
		if _, err := reg.Register(b.fn, b.opts...); err != nil {
			return err
		}
	}
	return nil
}
