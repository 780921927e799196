// Package instrumentation defines the per-call record and the observer
// hooks the dispatcher notifies. Hooks observe calls; they never steer them.
package instrumentation

import (
	"context"
	"sync"
	"time"
)

type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// CallMetadata describes one inbound call from start to finish.
type CallMetadata struct {
	ID          string
	ConnID      string
	Type        string
	Method      string
	ObjectID    string
	APIName     string
	Location    *Location
	Internal    bool
	StepID      string
	WaitID      string
	ClosesScope bool
	Params      map[string]any
	Result      any
	Error       error
	StartTime   time.Time
	EndTime     time.Time

	mu  sync.Mutex
	log []string
}

func (m *CallMetadata) AppendLog(message string) {
	m.mu.Lock()
	m.log = append(m.log, message)
	m.mu.Unlock()
}

func (m *CallMetadata) Log() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.log...)
}

func (m *CallMetadata) Duration() time.Duration {
	if m.EndTime.IsZero() {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

// Hooks is notified around every call. Implementations must not block.
type Hooks interface {
	OnBeforeCall(ctx context.Context, md *CallMetadata)
	OnCallLog(ctx context.Context, md *CallMetadata, message string)
	OnAfterCall(ctx context.Context, md *CallMetadata)
}

type Nop struct{}

func (Nop) OnBeforeCall(context.Context, *CallMetadata)      {}
func (Nop) OnCallLog(context.Context, *CallMetadata, string) {}
func (Nop) OnAfterCall(context.Context, *CallMetadata)       {}

type multi []Hooks

// Multi fans every notification out to hooks in order. Nil entries are skipped.
func Multi(hooks ...Hooks) Hooks {
	out := make(multi, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return Nop{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multi) OnBeforeCall(ctx context.Context, md *CallMetadata) {
	for _, h := range m {
		h.OnBeforeCall(ctx, md)
	}
}

func (m multi) OnCallLog(ctx context.Context, md *CallMetadata, message string) {
	for _, h := range m {
		h.OnCallLog(ctx, md, message)
	}
}

func (m multi) OnAfterCall(ctx context.Context, md *CallMetadata) {
	for _, h := range m {
		h.OnAfterCall(ctx, md)
	}
}
