package schema

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// MethodWaitForEventInfo is the three-phase wait method every event target exposes.
const MethodWaitForEventInfo = "waitForEventInfo"

var ErrDuplicateScheme = errors.New("schema: duplicate scheme")

type schemeKey struct {
	typ    string
	method string
	phase  Phase
}

// Registry holds validators keyed by (type, method, phase) plus named
// composite types referenced through Ref.
type Registry struct {
	mu      sync.RWMutex
	schemes map[schemeKey]Validator
	types   map[string]Validator
}

func NewRegistry() *Registry {
	return &Registry{
		schemes: make(map[schemeKey]Validator),
		types:   make(map[string]Validator),
	}
}

// Register binds v to (typ, method, phase). Initializers use method "".
func (r *Registry) Register(typ, method string, phase Phase, v Validator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := schemeKey{typ: typ, method: method, phase: phase}
	if _, exists := r.schemes[key]; exists {
		return fmt.Errorf("%w: %s for %s.%s", ErrDuplicateScheme, phase, typ, method)
	}
	r.schemes[key] = v
	return nil
}

// MustRegister is Register for package-level setup.
func (r *Registry) MustRegister(typ, method string, phase Phase, v Validator) {
	if err := r.Register(typ, method, phase, v); err != nil {
		panic(err)
	}
}

// RegisterMethod registers params and result validators for one method.
func (r *Registry) RegisterMethod(typ, method string, params, result Validator) error {
	if err := r.Register(typ, method, PhaseParams, params); err != nil {
		return err
	}
	return r.Register(typ, method, PhaseResult, result)
}

// RegisterWaitForEventInfo gives typ the three-phase wait contract.
func (r *Registry) RegisterWaitForEventInfo(typ string) error {
	return r.RegisterMethod(typ, MethodWaitForEventInfo, WaitInfo, Optional(Object()))
}

func (r *Registry) RegisterType(name string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[name] = v
}

// Ref resolves a named composite type at validation time.
func (r *Registry) Ref(name string) Validator {
	return func(v any, path string, ctx *Context) (any, error) {
		r.mu.RLock()
		inner, ok := r.types[name]
		r.mu.RUnlock()
		if !ok {
			return nil, invalid(path, "unknown type %s", name)
		}
		return inner(v, path, ctx)
	}
}

func (r *Registry) Find(typ, method string, phase Phase) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.schemes[schemeKey{typ: typ, method: method, phase: phase}]
	return v, ok
}

// Validate runs the validator registered for (typ, method, phase).
func (r *Registry) Validate(typ, method string, phase Phase, value any, path string, ctx *Context) (any, error) {
	v, ok := r.Find(typ, method, phase)
	if !ok {
		log.Debug().Str("type", typ).Str("method", method).Str("phase", string(phase)).Msg("schema.Registry.Validate unknown scheme")
		return nil, ValidationError{Reason: fmt.Sprintf("Unknown scheme for %s: %s.%s", phase, typ, method)}
	}
	out, err := v(value, path, ctx)
	if err != nil {
		log.Debug().Err(err).Str("type", typ).Str("method", method).Str("phase", string(phase)).Msg("schema.Registry.Validate rejected")
		return nil, err
	}
	return out, nil
}

// Metadata validates per-call metadata.
var Metadata = Object(
	Field{"location", Optional(Object(
		Field{"file", String},
		Field{"line", Optional(Int)},
		Field{"column", Optional(Int)},
	))},
	Field{"apiName", Optional(String)},
	Field{"internal", Optional(Bool)},
	Field{"stepId", Optional(String)},
)

// Wait phases of waitForEventInfo.
const (
	WaitBefore = "before"
	WaitLog    = "log"
	WaitAfter  = "after"
)

// WaitInfo validates the params of waitForEventInfo.
var WaitInfo = Object(
	Field{"info", Object(
		Field{"waitId", String},
		Field{"phase", Enum(WaitBefore, WaitLog, WaitAfter)},
		Field{"event", Optional(String)},
		Field{"message", Optional(String)},
		Field{"error", Optional(String)},
	)},
)
