package schema

import (
	"encoding/base64"
	"math"
	"reflect"
	"slices"
	"strings"
)

// Field is one named member of an Object validator.
type Field struct {
	Name string
	V    Validator
}

func String(v any, path string, _ *Context) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, expected(path, "string", v)
	}
	return s, nil
}

func Bool(v any, path string, _ *Context) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, expected(path, "boolean", v)
	}
	return b, nil
}

func Float(v any, path string, _ *Context) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, expected(path, "number", v)
	}
	return f, nil
}

func Int(v any, path string, _ *Context) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, expected(path, "number", v)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil, invalid(path, "expected integer, got float %v", f)
	}
	return int(f), nil
}

func Any(v any, _ string, _ *Context) (any, error) {
	return v, nil
}

func Undefined(v any, path string, _ *Context) (any, error) {
	if v != nil {
		return nil, expected(path, "undefined", v)
	}
	return nil, nil
}

// Binary converts between raw bytes and base64 text per ctx.Binary.
func Binary(v any, path string, ctx *Context) (any, error) {
	mode := BinaryBuffer
	if ctx != nil {
		mode = ctx.Binary
	}
	switch mode {
	case BinaryFromBase64:
		s, ok := v.(string)
		if !ok {
			return nil, expected(path, "base64 string", v)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, invalid(path, "invalid base64: %v", err)
		}
		return b, nil
	case BinaryToBase64:
		b, ok := v.([]byte)
		if !ok {
			return nil, expected(path, "buffer", v)
		}
		return base64.StdEncoding.EncodeToString(b), nil
	default:
		b, ok := v.([]byte)
		if !ok {
			return nil, expected(path, "buffer", v)
		}
		return b, nil
	}
}

// Optional accepts an absent value and otherwise defers to inner.
func Optional(inner Validator) Validator {
	return func(v any, path string, ctx *Context) (any, error) {
		if isNil(v) {
			return nil, nil
		}
		return inner(v, path, ctx)
	}
}

func Array(inner Validator) Validator {
	return func(v any, path string, ctx *Context) (any, error) {
		items, ok := asSlice(v)
		if !ok {
			return nil, expected(path, "array", v)
		}
		out := make([]any, 0, len(items))
		for i, item := range items {
			converted, err := inner(item, joinIndex(path, i), ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	}
}

// Object validates the listed fields, drops unknown keys and omits absent ones.
func Object(fields ...Field) Validator {
	return func(v any, path string, ctx *Context) (any, error) {
		m, ok := asMap(v)
		if !ok {
			return nil, expected(path, "object", v)
		}
		out := make(map[string]any, len(fields))
		for _, f := range fields {
			converted, err := f.V(m[f.Name], joinKey(path, f.Name), ctx)
			if err != nil {
				return nil, err
			}
			if converted != nil {
				out[f.Name] = converted
			}
		}
		return out, nil
	}
}

func Enum(values ...string) Validator {
	return func(v any, path string, _ *Context) (any, error) {
		s, ok := v.(string)
		if !ok || !slices.Contains(values, s) {
			return nil, invalid(path, "expected one of (%s), got %v", strings.Join(values, "|"), v)
		}
		return s, nil
	}
}

// ChannelOf converts live objects to {guid} outbound and resolves {guid}
// inbound. The name "*" accepts any object type.
func ChannelOf(names ...string) Validator {
	accepts := func(typ string) bool {
		return slices.Contains(names, "*") || slices.Contains(names, typ)
	}
	return func(v any, path string, ctx *Context) (any, error) {
		if ctx != nil && ctx.Outbound {
			ch, ok := v.(Channel)
			if !ok || isNil(ch) || !accepts(ch.Type()) {
				return nil, invalid(path, "expected dispatcher %s", strings.Join(names, "|"))
			}
			return map[string]any{"guid": ch.GUID()}, nil
		}
		m, ok := asMap(v)
		if !ok {
			return nil, expected(path, "channel", v)
		}
		guid, ok := m["guid"].(string)
		if !ok {
			return nil, expected(joinKey(path, "guid"), "string", m["guid"])
		}
		if ctx == nil || ctx.Channels == nil {
			return nil, invalid(path, "no object with guid %s", guid)
		}
		ch, found := ctx.Channels.Resolve(guid)
		if !found {
			return nil, invalid(path, "no object with guid %s", guid)
		}
		if !accepts(ch.Type()) {
			return nil, invalid(path, "object with guid %s has type %s, expected %s", guid, ch.Type(), strings.Join(names, "|"))
		}
		return ch, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Params:
		return map[string]any(m), true
	}
	return nil, false
}

// isNil reports untyped nil and nil pointers, maps and funcs held in an
// interface. Nil slices stay values: they validate as empty.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Prop is shorthand for a Field.
func Prop(name string, v Validator) Field {
	return Field{Name: name, V: v}
}
