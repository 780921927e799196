package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Reserved method names for the outbound lifecycle envelopes.
const (
	MethodCreate  = "__create__"
	MethodAdopt   = "__adopt__"
	MethodDispose = "__dispose__"
)

var ErrInvalidMessage = errors.New("protocol: invalid message")

// Message is one envelope. The same struct carries inbound calls, replies,
// and the four outbound shapes; which fields are set decides the kind.
type Message struct {
	ID       uint64           `json:"id,omitempty"`
	GUID     string           `json:"guid,omitempty"`
	Method   string           `json:"method,omitempty"`
	Params   map[string]any   `json:"params,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
	Result   any              `json:"result,omitempty"`
	Error    *SerializedError `json:"error,omitempty"`
	Log      []string         `json:"log,omitempty"`
}

type Kind int

const (
	KindInvalid Kind = iota
	KindCall
	KindReply
	KindCreate
	KindAdopt
	KindDispose
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindReply:
		return "reply"
	case KindCreate:
		return "create"
	case KindAdopt:
		return "adopt"
	case KindDispose:
		return "dispose"
	case KindEvent:
		return "event"
	default:
		return "invalid"
	}
}

func (m Message) Kind() Kind {
	switch {
	case m.ID != 0 && m.Method == "":
		return KindReply
	case m.ID != 0:
		return KindCall
	case m.Method == MethodCreate:
		return KindCreate
	case m.Method == MethodAdopt:
		return KindAdopt
	case m.Method == MethodDispose:
		return KindDispose
	case m.Method != "":
		return KindEvent
	default:
		return KindInvalid
	}
}

// ValidateCall checks the shape of an inbound call envelope.
func (m Message) ValidateCall() error {
	if m.ID == 0 {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Method) == "" {
		return fmt.Errorf("%w: missing method", ErrInvalidMessage)
	}
	if strings.HasPrefix(m.Method, "__") {
		return fmt.Errorf("%w: reserved method %q", ErrInvalidMessage, m.Method)
	}
	return nil
}

// Reply builds a success reply for call id.
func Reply(id uint64, result any) Message {
	return Message{ID: id, Result: result}
}

// ErrorReply builds a failure reply carrying the serialized error and log.
func ErrorReply(id uint64, err error, log []string) Message {
	return Message{ID: id, Error: SerializeError(err), Log: log}
}

// CreateParams is the params block of a __create__ envelope.
func CreateParams(typ, guid string, initializer any) map[string]any {
	return map[string]any{"type": typ, "guid": guid, "initializer": initializer}
}
