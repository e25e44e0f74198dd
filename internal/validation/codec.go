package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/obwan02/Actionator/internal/actions"
	"github.com/obwan02/Actionator/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Codec validates payloads against each action's input schema and decodes
// them into a fresh argument record. It is safe for concurrent use.
type Codec struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewCodec creates a Codec with an empty schema cache.
func NewCodec() *Codec {
	return &Codec{cache: make(map[string]*jsonschema.Schema)}
}

// Decode validates raw against d's input schema and decodes it. An empty
// body is treated as {}. Any failure is a VALIDATION_ERROR naming the first
// failing field in parameter order; no partially decoded record is returned.
func (c *Codec) Decode(d *actions.Descriptor, raw []byte) (actions.Args, error) {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		body = []byte("{}")
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return actions.Args{}, schema.NewError(schema.ErrCodeValidation, "payload is not valid JSON").WithCause(err)
	}

	compiled, err := c.getOrCompile(d.InputSchema())
	if err != nil {
		return actions.Args{}, schema.NewErrorf(schema.ErrCodeSchema, "action %s: invalid input schema", d.Name).WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return actions.Args{}, toValidationError(d, err)
	}

	ptr := reflect.New(d.ArgType())
	if err := decodeInto(d, body, ptr.Interface()); err != nil {
		return actions.Args{}, err
	}
	return actions.NewArgs(ptr.Elem()), nil
}

func decodeInto(d *actions.Descriptor, body []byte, target any) error {
	name := d.ParamName()
	if name == "" {
		return fromDecodeError(json.Unmarshal(body, target), "")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return fromDecodeError(err, "")
	}
	return fromDecodeError(json.Unmarshal(fields[name], target), name)
}

// fromDecodeError maps encoding/json failures the schema could not catch
// (for example integer overflow) onto VALIDATION_ERROR.
func fromDecodeError(err error, field string) error {
	if err == nil {
		return nil
	}
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) {
		if ute.Field != "" {
			field = strings.TrimPrefix(field+"."+ute.Field, ".")
		}
		return schema.NewErrorf(schema.ErrCodeValidation, "got %s, want %s", ute.Value, ute.Type).
			WithField(field).WithCause(err)
	}
	return schema.NewError(schema.ErrCodeValidation, "payload could not be decoded").WithField(field).WithCause(err)
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (c *Codec) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	c.mu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("actionator://input-schema/%d", len(c.cache))
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	c.cache[key] = compiled
	return compiled, nil
}

// violation is one leaf of a validation error tree.
type violation struct {
	path    []string
	message string
}

func (v violation) field() string { return strings.Join(v.path, ".") }

// toValidationError picks the violation whose top-level field comes first in
// the descriptor's parameter order and reports it, listing all violations in
// the details.
func toValidationError(d *actions.Descriptor, err error) error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error()).WithCause(err)
	}

	order := make(map[string]int, len(d.Params))
	for i, p := range d.Params {
		order[p.Name] = i
	}
	rank := func(v violation) int {
		if len(v.path) == 0 {
			return -1
		}
		if i, ok := order[v.path[0]]; ok {
			return i
		}
		return len(d.Params)
	}

	first := violations[0]
	for _, v := range violations[1:] {
		if rank(v) < rank(first) {
			first = v
		}
	}

	all := make([]string, len(violations))
	for i, v := range violations {
		all[i] = "/" + strings.Join(v.path, "/") + ": " + v.message
	}
	return schema.NewError(schema.ErrCodeValidation, first.message).
		WithField(first.field()).
		WithDetails(map[string]any{"violations": all}).
		WithCause(err)
}

// collectViolations walks a ValidationError tree and flattens its leaves.
// A missing required property becomes one violation per missing name,
// located at that property.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		if req, ok := verr.ErrorKind.(*kind.Required); ok {
			out := make([]violation, 0, len(req.Missing))
			for _, name := range req.Missing {
				path := append(append([]string{}, verr.InstanceLocation...), name)
				out = append(out, violation{path: path, message: "missing required field"})
			}
			return out
		}
		return []violation{{
			path:    verr.InstanceLocation,
			message: verr.ErrorKind.LocalizedString(printer),
		}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
