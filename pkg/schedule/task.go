package schedule

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// task is a callable bound to its arguments.
//
// A leading context.Context parameter receives the poll context. When the
// last result implements error, a non-nil value marks the run as failed.
type task struct {
	name    string
	fn      reflect.Value
	args    []reflect.Value
	raw     []any
	withCtx bool
	errOut  bool
}

func newTask(fn any, args []any) (task, error) {
	if fn == nil {
		return task{}, configErrorf("job function is nil")
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return task{}, configErrorf("job must be a function, got %T", fn)
	}
	if v.IsNil() {
		return task{}, configErrorf("job function is nil")
	}

	first := 0
	withCtx := t.NumIn() > 0 && t.In(0) == contextType
	if withCtx {
		first = 1
	}
	params := t.NumIn() - first
	switch {
	case t.IsVariadic() && len(args) < params-1:
		return task{}, configErrorf("%s needs at least %d arguments, got %d", funcName(v), params-1, len(args))
	case !t.IsVariadic() && len(args) != params:
		return task{}, configErrorf("%s needs %d arguments, got %d", funcName(v), params, len(args))
	}

	vals := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if t.IsVariadic() && i >= params-1 {
			pt = t.In(t.NumIn() - 1).Elem()
		} else {
			pt = t.In(first + i)
		}
		if a == nil {
			if !nillable(pt.Kind()) {
				return task{}, configErrorf("argument %d of %s: nil is not a valid %s", i, funcName(v), pt)
			}
			vals[i] = reflect.Zero(pt)
			continue
		}
		av := reflect.ValueOf(a)
		if !av.Type().AssignableTo(pt) {
			return task{}, configErrorf("argument %d of %s: %s is not assignable to %s", i, funcName(v), av.Type(), pt)
		}
		vals[i] = av
	}

	return task{
		name:    funcName(v),
		fn:      v,
		args:    vals,
		raw:     append([]any(nil), args...),
		withCtx: withCtx,
		errOut:  t.NumOut() > 0 && t.Out(t.NumOut()-1).Implements(errorType),
	}, nil
}

func (t task) call(ctx context.Context) error {
	in := make([]reflect.Value, 0, len(t.args)+1)
	if t.withCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	in = append(in, t.args...)
	out := t.fn.Call(in)
	if !t.errOut || len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if nillable(last.Kind()) && last.IsNil() {
		return nil
	}
	err, _ := last.Interface().(error)
	return err
}

// describe renders "name(arg, ...)".
func (t task) describe() string {
	parts := make([]string, 0, len(t.raw))
	for _, a := range t.raw {
		if s, ok := a.(string); ok {
			parts = append(parts, fmt.Sprintf("%q", s))
			continue
		}
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	return t.name + "(" + strings.Join(parts, ", ") + ")"
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return true
	}
	return false
}

func funcName(v reflect.Value) string {
	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		return "func"
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
