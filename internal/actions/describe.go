package actions

import (
	"context"
	"iter"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"unicode"

	"github.com/obwan02/Actionator/internal/streaming"
	"github.com/obwan02/Actionator/pkg/schema"
)

const defaultParamName = "value"

var (
	ctxType       = reflect.TypeFor[context.Context]()
	errorType     = reflect.TypeFor[error]()
	outputType    = reflect.TypeFor[*streaming.Output]()
	awaitableType = reflect.TypeFor[Awaitable]()
	seqType       = reflect.TypeFor[iter.Seq[string]]()
	recvChanType  = reflect.TypeFor[<-chan string]()

	anonFuncName = regexp.MustCompile(`^func\d+$`)
)

// Describe inspects fn once and builds its immutable descriptor.
//
// fn takes an optional leading context.Context, exactly one argument record
// and, with WithOutput, one *streaming.Output. The argument record is either
// a struct whose JSON fields are the parameters, or any other supported type
// exposed as a single parameter named by WithParamName.
func Describe(fn any, opts ...Option) (*Descriptor, error) {
	o := options{paramName: defaultParamName}
	for _, opt := range opts {
		opt(&o)
	}

	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, schema.NewErrorf(schema.ErrCodeSchema, "action must be a non-nil function, got %T", fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, schema.NewError(schema.ErrCodeSchema, "variadic functions are not supported")
	}

	name := o.name
	if name == "" {
		derived, err := funcName(v)
		if err != nil {
			return nil, err
		}
		name = derived
	}

	d := &Descriptor{
		Name:        name,
		Description: o.description,
		WantsOutput: o.wantsOutput,
		fn:          v,
	}

	if err := d.describeParams(t, o); err != nil {
		return nil, err
	}
	if err := d.describeResults(t); err != nil {
		return nil, err
	}

	raw, err := buildInputSchema(d)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSchema, "action %s: build input schema", name).WithCause(err)
	}
	d.inputSchema = raw
	return d, nil
}

func (d *Descriptor) describeParams(t reflect.Type, o options) error {
	in := make([]reflect.Type, 0, t.NumIn())
	for i := range t.NumIn() {
		in = append(in, t.In(i))
	}
	if len(in) > 0 && in[0] == ctxType {
		d.hasContext = true
		in = in[1:]
	}

	declared := len(in)
	outputAt := -1
	for i, p := range in {
		if p == outputType {
			if outputAt >= 0 {
				return schema.NewErrorf(schema.ErrCodeSchema, "action %s declares more than one output parameter", d.Name)
			}
			outputAt = i
		}
	}

	switch {
	case d.WantsOutput && outputAt < 0:
		return schema.NewErrorf(schema.ErrCodeSchema,
			"action %s wants an output channel but declares no *streaming.Output parameter", d.Name)
	case !d.WantsOutput && outputAt >= 0:
		return schema.NewErrorf(schema.ErrCodeSchema,
			"action %s declares a *streaming.Output parameter without WithOutput", d.Name)
	}

	expected := 1
	if d.WantsOutput {
		expected = 2
	}
	if declared != expected {
		return schema.NewErrorf(schema.ErrCodeSchema,
			"action %s must declare exactly one argument record, found %d parameter(s)", d.Name, declared-(expected-1)).
			WithDetails(map[string]any{"declared": declared, "wants_output": d.WantsOutput})
	}

	argAt := 0
	if outputAt == 0 {
		argAt = 1
		d.outputFirst = true
	}
	arg := in[argAt]
	if arg == ctxType {
		return schema.NewErrorf(schema.ErrCodeSchema, "action %s: context.Context must be the first parameter", d.Name)
	}
	d.argType = arg

	if arg.Kind() == reflect.Struct {
		fields, err := structParams(arg)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeSchema, "action %s: %s", d.Name, err.Message).WithField(err.Field)
		}
		d.Params = fields
		return nil
	}

	p, err := typeParam(o.paramName, arg)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeSchema, "action %s: %s", d.Name, err.Message).WithField(err.Field)
	}
	p.Required = true
	d.paramName = o.paramName
	d.Params = []Param{p}
	return nil
}

func (d *Descriptor) describeResults(t reflect.Type) error {
	out := make([]reflect.Type, 0, t.NumOut())
	for i := range t.NumOut() {
		out = append(out, t.Out(i))
	}
	if n := len(out); n > 0 && out[n-1] == errorType {
		d.hasError = true
		out = out[:n-1]
	}
	if len(out) > 1 {
		return schema.NewErrorf(schema.ErrCodeSchema,
			"action %s returns %d values; expected at most a value and an error", d.Name, t.NumOut())
	}
	if len(out) == 0 {
		d.Convention = Call
		return nil
	}

	d.hasValue = true
	r := out[0]
	switch {
	case r.Implements(awaitableType):
		d.Convention = AsyncCall
	case r.Kind() == reflect.Func && r.ConvertibleTo(seqType):
		d.Convention = SyncStream
	case r.Kind() == reflect.Chan && r.Elem().Kind() == reflect.String && r.ChanDir()&reflect.RecvDir != 0:
		d.Convention = AsyncStream
	case r.Kind() == reflect.Func || r.Kind() == reflect.Chan:
		return schema.NewErrorf(schema.ErrCodeSchema,
			"action %s returns unsupported %s; streams must be iter.Seq[string] or <-chan string", d.Name, r)
	default:
		d.Convention = Call
	}
	return nil
}

func structParams(t reflect.Type) ([]Param, *schema.ActionatorError) {
	params := make([]Param, 0, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitempty, skip := jsonName(f)
		if skip {
			continue
		}
		if f.Anonymous {
			return nil, schema.NewError(schema.ErrCodeSchema, "embedded fields are not supported").WithField(name)
		}

		ft := f.Type
		optional := omitempty
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
			optional = true
		}
		p, err := typeParam(name, ft)
		if err != nil {
			return nil, err
		}
		p.Required = !optional
		params = append(params, p)
	}
	return params, nil
}

func typeParam(name string, t reflect.Type) (Param, *schema.ActionatorError) {
	p := Param{Name: name}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		p.Type = TypeInteger
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		p.Type = TypeInteger
		p.Unsigned = true
	case reflect.Float32, reflect.Float64:
		p.Type = TypeFloat
	case reflect.String:
		p.Type = TypeString
	case reflect.Bool:
		p.Type = TypeBoolean
	case reflect.Struct:
		fields, err := structParams(t)
		if err != nil {
			if err.Field != "" {
				err.Field = name + "." + err.Field
			}
			return p, err
		}
		p.Type = TypeRecord
		p.Fields = fields
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return p, schema.NewErrorf(schema.ErrCodeSchema, "map keys must be strings, got %s", t.Key()).WithField(name)
		}
		elem, err := typeParam(name, t.Elem())
		if err != nil {
			return p, err
		}
		elem.Name = ""
		elem.Required = true
		p.Type = TypeRecord
		p.Elem = &elem
	default:
		return p, schema.NewErrorf(schema.ErrCodeSchema, "unsupported parameter type %s", t).WithField(name)
	}
	return p, nil
}

// jsonName mirrors encoding/json's field naming.
func jsonName(f reflect.StructField) (name string, omitempty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	for _, opt := range strings.Split(opts, ",") {
		if opt == "omitempty" || opt == "omitzero" {
			omitempty = true
		}
	}
	return name, omitempty, false
}

// funcName derives the action name from the function's symbol:
// "github.com/x/pkg.CleanCache" becomes "clean_cache".
func funcName(v reflect.Value) (string, error) {
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return "", schema.NewError(schema.ErrCodeSchema, "cannot resolve function name; use WithName")
	}
	full := rf.Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	full = strings.TrimSuffix(full, "-fm")
	if i := strings.Index(full, "["); i >= 0 {
		full = full[:i]
	}
	base := full
	if i := strings.LastIndex(full, "."); i >= 0 {
		base = full[i+1:]
	}
	if base == "" || anonFuncName.MatchString(base) {
		return "", schema.NewErrorf(schema.ErrCodeSchema, "anonymous function %s needs WithName", rf.Name())
	}
	return ToSnake(base), nil
}

// ToSnake converts a Go identifier to snake_case, keeping acronyms together:
// "HTTPGet" → "http_get", "DelayedEcho" → "delayed_echo".
func ToSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
