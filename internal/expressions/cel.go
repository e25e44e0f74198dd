package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/obwan02/Actionator/pkg/schema"
)

// CELEngine implements Engine using Google's Common Expression Language.
// Compiled programs are cached and shared across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a CEL engine whose environment declares the message
// fields as string variables: producer, kind, stream, payload.
func NewCELEngine() (*CELEngine, error) {
	opts := make([]cel.EnvOption, 0, len(messageVars))
	for _, name := range messageVars {
		opts = append(opts, cel.Variable(name, cel.StringType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

func (e *CELEngine) Name() string {
	return "cel"
}

func (e *CELEngine) Check(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// Evaluate runs a CEL expression against data. Missing message fields are
// bound to "".
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	activation := make(map[string]any, len(messageVars))
	for _, name := range messageVars {
		if v, ok := data[name]; ok && v != nil {
			activation[name] = v
		} else {
			activation[name] = ""
		}
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out.Value(), nil
}

func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

var _ Engine = (*CELEngine)(nil)
