package expressions

import "context"

// Engine evaluates subscriber filter expressions over a message's fields.
// Three implementations: Expr (default), CEL and GoJQ.
type Engine interface {
	Name() string
	// Check compiles expression without running it.
	Check(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Message fields visible to filter expressions.
const (
	VarProducer = "producer"
	VarKind     = "kind"
	VarStream   = "stream"
	VarPayload  = "payload"
)

var messageVars = []string{VarProducer, VarKind, VarStream, VarPayload}
