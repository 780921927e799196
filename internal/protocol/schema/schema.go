package schema

import (
	"fmt"
	"reflect"

	"github.com/danmuck/edgerpc/internal/protocol"
)

// Phase selects which half of a method contract a validator checks.
type Phase string

const (
	PhaseParams      Phase = "Params"
	PhaseResult      Phase = "Result"
	PhaseInitializer Phase = "Initializer"
	PhaseEvent       Phase = "Event"
)

// BinaryMode decides how Binary fields are represented while validating.
type BinaryMode int

const (
	// BinaryBuffer keeps raw []byte in both directions (same-process).
	BinaryBuffer BinaryMode = iota
	// BinaryFromBase64 decodes wire base64 strings into []byte.
	BinaryFromBase64
	// BinaryToBase64 encodes []byte into base64 strings for the wire.
	BinaryToBase64
)

func (m BinaryMode) String() string {
	switch m {
	case BinaryFromBase64:
		return "fromBase64"
	case BinaryToBase64:
		return "toBase64"
	default:
		return "buffer"
	}
}

// Channel is a live remote object as seen by validators.
type Channel interface {
	GUID() string
	Type() string
}

// ChannelResolver maps wire guids back to live objects.
type ChannelResolver interface {
	Resolve(guid string) (Channel, bool)
}

// Context carries per-connection settings into every validator call.
type Context struct {
	Binary    BinaryMode
	Channels  ChannelResolver
	Outbound  bool
	UnderTest bool
}

// Validator checks v at path and returns its converted form.
type Validator func(v any, path string, ctx *Context) (any, error)

// ValidationError names the offending path of a rejected value.
type ValidationError = protocol.ValidationError

func invalid(path, format string, args ...any) error {
	return ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func expected(path, want string, got any) error {
	return invalid(path, "expected %s, got %s", want, describe(got))
}

func describe(v any) string {
	if v == nil {
		return "undefined"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case []byte:
		return "buffer"
	case map[string]any, Params:
		return "object"
	case Channel:
		return "object"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct, reflect.Pointer:
		return "object"
	}
	return reflect.TypeOf(v).String()
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func joinIndex(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

// Encoding is a connection's binary representation, chosen once per
// transport.
type Encoding int

const (
	// EncodingBuffer passes raw bytes (same-process transports).
	EncodingBuffer Encoding = iota
	// EncodingBase64 carries bytes as base64 text (cross-process transports).
	EncodingBase64
)

func (e Encoding) String() string {
	if e == EncodingBase64 {
		return "base64"
	}
	return "buffer"
}

// InboundMode is the BinaryMode for values read off the wire.
func (e Encoding) InboundMode() BinaryMode {
	if e == EncodingBase64 {
		return BinaryFromBase64
	}
	return BinaryBuffer
}

// OutboundMode is the BinaryMode for values written to the wire.
func (e Encoding) OutboundMode() BinaryMode {
	if e == EncodingBase64 {
		return BinaryToBase64
	}
	return BinaryBuffer
}
