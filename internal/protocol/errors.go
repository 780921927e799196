package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Wire names of the error taxonomy.
const (
	NameError             = "Error"
	NameValidationError   = "ValidationError"
	NameTargetClosedError = "TargetClosedError"
	NameTimeoutError      = "TimeoutError"
	NameProtocolError     = "ProtocolError"
	NameDisconnectedError = "DisconnectedError"
)

const targetClosedPrefix = "Target closed"

// Named is implemented by errors that serialize under a specific wire name.
type Named interface {
	ErrorName() string
}

// TargetClosedError reports a guid that is disposed or never existed.
type TargetClosedError struct {
	Reason string
}

func (e *TargetClosedError) Error() string {
	if e.Reason == "" {
		return targetClosedPrefix
	}
	return targetClosedPrefix + ": " + e.Reason
}

func (e *TargetClosedError) ErrorName() string { return NameTargetClosedError }

// ValidationError names the offending path of a rejected value.
type ValidationError struct {
	Path   string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return e.Path + ": " + e.Reason
}

func (e ValidationError) ErrorName() string { return NameValidationError }

// TimeoutError is raised when a call's deadline expires. Elapsed is the
// time the call actually ran before it was aborted.
type TimeoutError struct {
	Timeout time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Timeout %dms exceeded.", e.Timeout.Milliseconds())
}

func (e *TimeoutError) ErrorName() string { return NameTimeoutError }

type ProtocolErrorKind string

const (
	ProtocolClosed  ProtocolErrorKind = "closed"
	ProtocolCrashed ProtocolErrorKind = "crashed"
	ProtocolOther   ProtocolErrorKind = "other"
)

// ProtocolError is a transport-level failure reported by an underlying resource.
type ProtocolError struct {
	Kind    ProtocolErrorKind
	Method  string
	Message string
	Log     string
}

func (e *ProtocolError) Error() string {
	msg := e.Message
	if e.Method != "" {
		msg = fmt.Sprintf("Protocol error (%s): %s", e.Method, e.Message)
	}
	if e.Log != "" {
		msg += "\n" + e.Log
	}
	return msg
}

func (e *ProtocolError) ErrorName() string { return NameProtocolError }

// DisconnectedError is delivered to every in-flight call when the transport closes.
type DisconnectedError struct {
	Cause error
}

func (e *DisconnectedError) Error() string {
	if e.Cause == nil {
		return "Disconnected"
	}
	return "Disconnected: " + e.Cause.Error()
}

func (e *DisconnectedError) Unwrap() error { return e.Cause }

func (e *DisconnectedError) ErrorName() string { return NameDisconnectedError }

// RemoteError is a failure received from the peer that has no richer local type.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) ErrorName() string { return e.Name }

// SerializedError is the wire form of any error.
type SerializedError struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	Path      string `json:"path,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
	ElapsedMs int64  `json:"elapsedMs,omitempty"`
}

// ErrorName returns the wire name for err, walking the wrap chain.
func ErrorName(err error) string {
	var named Named
	if errors.As(err, &named) {
		return named.ErrorName()
	}
	return NameError
}

func SerializeError(err error) *SerializedError {
	if err == nil {
		return nil
	}
	out := &SerializedError{Name: ErrorName(err), Message: err.Error()}
	var remote *RemoteError
	if errors.As(err, &remote) {
		out.Stack = remote.Stack
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		out.Path = ve.Path
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		out.TimeoutMs = te.Timeout.Milliseconds()
		out.ElapsedMs = te.Elapsed.Milliseconds()
	}
	return out
}

// ParseError rebuilds a typed error from its wire form.
func ParseError(se *SerializedError) error {
	if se == nil {
		return nil
	}
	switch se.Name {
	case NameTargetClosedError:
		reason := strings.TrimPrefix(se.Message, targetClosedPrefix)
		reason = strings.TrimPrefix(reason, ": ")
		return &TargetClosedError{Reason: reason}
	case NameDisconnectedError:
		reason := strings.TrimPrefix(se.Message, "Disconnected")
		reason = strings.TrimPrefix(reason, ": ")
		if reason == "" {
			return &DisconnectedError{}
		}
		return &DisconnectedError{Cause: errors.New(reason)}
	case NameValidationError:
		if reason, ok := strings.CutPrefix(se.Message, se.Path+": "); ok && se.Path != "" {
			return ValidationError{Path: se.Path, Reason: reason}
		}
		return ValidationError{Reason: se.Message}
	case NameTimeoutError:
		if se.TimeoutMs <= 0 {
			return &RemoteError{Name: se.Name, Message: se.Message, Stack: se.Stack}
		}
		return &TimeoutError{
			Timeout: time.Duration(se.TimeoutMs) * time.Millisecond,
			Elapsed: time.Duration(se.ElapsedMs) * time.Millisecond,
		}
	case NameProtocolError:
		return &ProtocolError{Kind: ProtocolOther, Message: se.Message}
	default:
		return &RemoteError{Name: se.Name, Message: se.Message, Stack: se.Stack}
	}
}

// IsTargetClosed reports whether err is a TargetClosedError, local or remote.
func IsTargetClosed(err error) bool {
	var tc *TargetClosedError
	return errors.As(err, &tc)
}
