package expressions

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/obwan02/Actionator/internal/streaming"
	"github.com/obwan02/Actionator/pkg/schema"
)

// Filter languages accepted by NewMessageFilter.
const (
	LangExpr = "expr"
	LangCEL  = "cel"
	LangJQ   = "jq"
)

var (
	exprEngine = NewExprEngine()
	jqEngine   = NewGoJQEngine()

	celOnce   sync.Once
	celEngine *CELEngine
	celErr    error
)

// EngineFor returns the shared engine for lang. An empty lang selects expr.
func EngineFor(lang string) (Engine, error) {
	switch strings.ToLower(lang) {
	case "", LangExpr:
		return exprEngine, nil
	case LangJQ:
		return jqEngine, nil
	case LangCEL:
		celOnce.Do(func() { celEngine, celErr = NewCELEngine() })
		if celErr != nil {
			return nil, celErr
		}
		return celEngine, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown filter language %q", lang).
			WithField("lang")
	}
}

// MessageFilter is a compiled predicate over message fields. It satisfies
// streaming.Filter.
type MessageFilter struct {
	engine     Engine
	expression string
}

// NewMessageFilter compiles expression in lang. Compile errors are returned
// as VALIDATION_ERROR so the subscription can be refused.
func NewMessageFilter(lang, expression string) (*MessageFilter, error) {
	engine, err := EngineFor(lang)
	if err != nil {
		return nil, err
	}
	if err := engine.Check(expression); err != nil {
		return nil, err
	}
	return &MessageFilter{engine: engine, expression: expression}, nil
}

// Lang returns the filter's language name.
func (f *MessageFilter) Lang() string { return f.engine.Name() }

func (f *MessageFilter) String() string {
	return f.engine.Name() + ":" + f.expression
}

// Match evaluates the filter against msg. Expr and CEL filters must yield a
// boolean; jq filters follow jq truthiness (false and null reject).
func (f *MessageFilter) Match(ctx context.Context, msg schema.Message) (bool, error) {
	out, err := f.engine.Evaluate(ctx, f.expression, messageData(msg))
	if err != nil {
		return false, err
	}

	if f.engine.Name() == LangJQ {
		if all, ok := out.([]any); ok {
			if len(all) == 0 {
				return false, nil
			}
			out = all[0]
		}
		return out != nil && out != false, nil
	}

	b, ok := out.(bool)
	if !ok {
		return false, schema.NewError(schema.ErrCodeValidation,
			fmt.Sprintf("filter %q returned %T, want bool", f.expression, out))
	}
	return b, nil
}

func messageData(msg schema.Message) map[string]any {
	return map[string]any{
		VarProducer: msg.Producer,
		VarKind:     string(msg.Kind),
		VarStream:   string(msg.Stream),
		VarPayload:  msg.Payload,
	}
}

var _ streaming.Filter = (*MessageFilter)(nil)
