package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/obwan02/Actionator/internal/streaming"
)

// Convention is the calling shape of a registered callable, fixed at
// registration.
type Convention int

const (
	// Call returns a value (or nothing) directly.
	Call Convention = iota
	// AsyncCall returns an Awaitable that is awaited for the value.
	AsyncCall
	// SyncStream returns an iter.Seq[string] ranged on the invoking goroutine.
	SyncStream
	// AsyncStream returns a receive-only string channel drained until closed.
	AsyncStream
)

var conventionNames = [...]string{
	Call:        "call",
	AsyncCall:   "async-call",
	SyncStream:  "sync-stream",
	AsyncStream: "async-stream",
}

func (c Convention) String() string {
	if int(c) < len(conventionNames) {
		return conventionNames[c]
	}
	return fmt.Sprintf("Convention(%d)", int(c))
}

// MarshalText encodes the convention by name.
func (c Convention) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a convention name.
func (c *Convention) UnmarshalText(text []byte) error {
	for i, name := range conventionNames {
		if name == string(text) {
			*c = Convention(i)
			return nil
		}
	}
	return fmt.Errorf("unknown calling convention %q", text)
}

// ParamType is the semantic type of a declared parameter.
type ParamType string

const (
	TypeInteger ParamType = "integer"
	TypeString  ParamType = "string"
	TypeFloat   ParamType = "float"
	TypeBoolean ParamType = "boolean"
	TypeRecord  ParamType = "record"
)

// Param is one entry of a descriptor's parameter schema.
type Param struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required"`
	Unsigned bool      `json:"unsigned,omitempty"`
	// Fields holds the members of a struct record, in declaration order.
	Fields []Param `json:"fields,omitempty"`
	// Elem is the value type of a map record.
	Elem *Param `json:"elem,omitempty"`
}

// Descriptor is the immutable registration-time description of one action.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
	Convention  Convention
	WantsOutput bool

	fn          reflect.Value
	argType     reflect.Type
	paramName   string // set when the argument record is a single named value
	hasContext  bool
	outputFirst bool // output parameter precedes the argument record
	hasError    bool // last result is an error
	hasValue    bool // first result carries a value
	inputSchema json.RawMessage
}

// ArgType returns the Go type of the single argument record.
func (d *Descriptor) ArgType() reflect.Type { return d.argType }

// ParamName returns the payload key of a non-struct argument record, or ""
// when the record is a struct whose fields are the parameters.
func (d *Descriptor) ParamName() string { return d.paramName }

// InputSchema returns the JSON Schema (2020-12) describing valid payloads.
func (d *Descriptor) InputSchema() json.RawMessage { return d.inputSchema }

// Info summarises the descriptor for listings.
func (d *Descriptor) Info() ActionInfo {
	return ActionInfo{
		Name:        d.Name,
		Description: d.Description,
		Convention:  d.Convention,
		WantsOutput: d.WantsOutput,
		Params:      d.Params,
		InputSchema: d.inputSchema,
	}
}

// Args is a decoded argument record ready to be passed to the callable.
type Args struct {
	v reflect.Value
}

// NewArgs wraps a decoded value. Its type must be the descriptor's ArgType.
func NewArgs(v reflect.Value) Args { return Args{v: v} }

// Value returns the decoded record as an interface value.
func (a Args) Value() any {
	if !a.v.IsValid() {
		return nil
	}
	return a.v.Interface()
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Convention  Convention      `json:"convention"`
	WantsOutput bool            `json:"wants_output"`
	Params      []Param         `json:"params"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ActionRegistry manages registration and lookup of actions.
type ActionRegistry interface {
	Register(fn any, opts ...Option) (*Descriptor, error)
	Get(name string) (*Descriptor, error)
	List() []ActionInfo
}

// Option customises Describe.
type Option func(*options)

type options struct {
	name        string
	description string
	paramName   string
	wantsOutput bool
}

// WithName overrides the name derived from the function. Required for
// anonymous functions and closures.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDescription sets the human-readable description.
func WithDescription(desc string) Option {
	return func(o *options) { o.description = desc }
}

// WithParamName names the payload key of a non-struct argument record.
// Defaults to "value".
func WithParamName(name string) Option {
	return func(o *options) { o.paramName = name }
}

// WithOutput declares that the callable takes a *streaming.Output parameter.
func WithOutput() Option {
	return func(o *options) { o.wantsOutput = true }
}

// Call runs the underlying function once and returns its first result
// (a value, an Awaitable, an iter.Seq[string] or a <-chan string depending on
// the convention) and its error result. Panics are not recovered here.
func (d *Descriptor) Call(ctx context.Context, args Args, out *streaming.Output) (any, error) {
	if !args.v.IsValid() || args.v.Type() != d.argType {
		return nil, fmt.Errorf("action %s: argument record has wrong type", d.Name)
	}
	if d.WantsOutput && out == nil {
		return nil, fmt.Errorf("action %s: output channel required", d.Name)
	}

	in := make([]reflect.Value, 0, 3)
	if d.hasContext {
		in = append(in, reflect.ValueOf(ctx))
	}
	if d.WantsOutput && d.outputFirst {
		in = append(in, reflect.ValueOf(out))
	}
	in = append(in, args.v)
	if d.WantsOutput && !d.outputFirst {
		in = append(in, reflect.ValueOf(out))
	}

	results := d.fn.Call(in)

	var err error
	if d.hasError {
		if e := results[len(results)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
	}
	if !d.hasValue {
		return nil, err
	}

	first := results[0]
	switch d.Convention {
	case SyncStream:
		if first.IsNil() {
			return nil, err
		}
		return first.Convert(seqType).Interface(), err
	case AsyncStream:
		if first.IsNil() {
			return nil, err
		}
		return first.Convert(recvChanType).Interface(), err
	default:
		return first.Interface(), err
	}
}
