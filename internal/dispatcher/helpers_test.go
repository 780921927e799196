package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/edgerpc/internal/progress"
	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
)

type wireRecorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (w *wireRecorder) send(msg protocol.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
	return nil
}

func (w *wireRecorder) all() []protocol.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]protocol.Message(nil), w.msgs...)
}

func (w *wireRecorder) count(method string) int {
	n := 0
	for _, m := range w.all() {
		if m.Method == method {
			n++
		}
	}
	return n
}

func (w *wireRecorder) reply(id uint64) (protocol.Message, bool) {
	for _, m := range w.all() {
		if m.Kind() == protocol.KindReply && m.ID == id {
			return m, true
		}
	}
	return protocol.Message{}, false
}

func (w *wireRecorder) awaitReply(t *testing.T, id uint64) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m, ok := w.reply(id); ok {
			return m
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no reply for call %d", id)
	return protocol.Message{}
}

type fakeResource struct {
	name   string
	reason string
}

func (r *fakeResource) CloseReason() string { return r.reason }

type itemHandler struct {
	obj      *Object
	disposed chan string
	slowIn   chan struct{}
}

func (h *itemHandler) Bind(o *Object) { h.obj = o }

func (h *itemHandler) OnDispose(reason string) {
	select {
	case h.disposed <- reason:
	default:
	}
}

func (h *itemHandler) Methods() map[string]Method {
	return map[string]Method{
		"echo": {Fn: func(_ *progress.Progress, params schema.Params) (any, error) {
			return map[string]any{"value": params["value"]}, nil
		}},
		"blob": {Fn: func(_ *progress.Progress, params schema.Params) (any, error) {
			data := params.Bytes("data")
			return map[string]any{"data": append(data, '!'), "size": len(data)}, nil
		}},
		"slow": {Fn: h.slow},
		"close": {ClosesScope: true, Fn: h.slow},
		"fail": {Fn: func(p *progress.Progress, params schema.Params) (any, error) {
			switch params.String("kind") {
			case "closed":
				return nil, &protocol.ProtocolError{Kind: protocol.ProtocolClosed, Message: "pipe closed"}
			case "crashed":
				return nil, &protocol.ProtocolError{Kind: protocol.ProtocolCrashed, Message: "gone", Log: "segfault"}
			case "target":
				return nil, &protocol.TargetClosedError{}
			case "result":
				return map[string]any{"unexpected": true, "count": "nope"}, nil
			}
			p.Log("step")
			p.Log("step")
			return nil, errors.New("plain failure")
		}},
		"find": {Fn: func(_ *progress.Progress, params schema.Params) (any, error) {
			var found *Object
			if guid := params.String("guid"); guid != "" {
				found, _ = h.obj.Connection().Lookup(guid)
			}
			return map[string]any{"item": found}, nil
		}},
		"brokenResult": {Fn: func(_ *progress.Progress, _ schema.Params) (any, error) {
			return map[string]any{}, nil
		}},
		"spawn": {Fn: func(_ *progress.Progress, params schema.Params) (any, error) {
			child, _, err := newItem(h.obj.Connection(), h.obj, params.String("name"), nil)
			if err != nil {
				return nil, err
			}
			return map[string]any{"item": child}, nil
		}},
	}
}

func (h *itemHandler) slow(p *progress.Progress, _ schema.Params) (any, error) {
	if h.slowIn != nil {
		h.slowIn <- struct{}{}
	}
	_, err := progress.Race(p, make(chan struct{}))
	return nil, err
}

func testRegistry() *schema.Registry {
	r := schema.NewRegistry()
	r.MustRegister(RootType, MethodInitialize, schema.PhaseParams, schema.Object(schema.Prop("name", schema.Optional(schema.String))))
	r.MustRegister(RootType, MethodInitialize, schema.PhaseResult, schema.Object(schema.Prop("item", schema.ChannelOf("Item"))))
	r.MustRegister("Item", "", schema.PhaseInitializer, schema.Object(schema.Prop("name", schema.String)))
	r.MustRegister("Item", "ping", schema.PhaseEvent, schema.Object(schema.Prop("n", schema.Int)))
	empty := schema.Optional(schema.Object())
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(r.RegisterMethod("Item", "echo", schema.Object(schema.Prop("value", schema.Optional(schema.Any))), schema.Object(schema.Prop("value", schema.Optional(schema.Any)))))
	must(r.RegisterMethod("Item", "blob", schema.Object(schema.Prop("data", schema.Binary)), schema.Object(schema.Prop("data", schema.Binary), schema.Prop("size", schema.Int))))
	must(r.RegisterMethod("Item", "slow", schema.Object(schema.Prop("timeout", schema.Optional(schema.Float))), empty))
	must(r.RegisterMethod("Item", "close", schema.Object(), empty))
	must(r.RegisterMethod("Item", "fail", schema.Object(schema.Prop("kind", schema.String)), schema.Optional(schema.Object(schema.Prop("count", schema.Int)))))
	must(r.RegisterMethod("Item", "spawn", schema.Object(schema.Prop("name", schema.String)), schema.Object(schema.Prop("item", schema.ChannelOf("Item")))))
	must(r.RegisterMethod("Item", "find", schema.Object(schema.Prop("guid", schema.Optional(schema.String))), schema.Object(schema.Prop("item", schema.Optional(schema.ChannelOf("Item"))))))
	must(r.RegisterMethod("Item", "brokenResult", schema.Optional(schema.Object()), func(any, string, *schema.Context) (any, error) {
		panic("result validator exploded")
	}))
	r.MustRegister("Marker", "", schema.PhaseInitializer, schema.Object())
	must(r.RegisterWaitForEventInfo("Item"))
	return r
}

type connOption func(*Config)

func withDebug(cfg *Config) { cfg.Debug = true }

func withCapacity(bucket string, n int) connOption {
	return func(cfg *Config) { cfg.Buckets = map[string]int{bucket: n} }
}

func newTestConn(opts ...connOption) (*Connection, *wireRecorder) {
	w := &wireRecorder{}
	cfg := Config{Registry: testRegistry(), Send: w.send}
	cfg.Initialize = func(_ *progress.Progress, root *Object, params schema.Params) (any, error) {
		name := params.String("name")
		if name == "" {
			name = "bootstrap"
		}
		item, _, err := newItem(root.Connection(), root, name, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{"item": item}, nil
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewConnection(cfg), w
}

func newItem(c *Connection, parent *Object, name string, resource any) (*Object, *itemHandler, error) {
	h := &itemHandler{disposed: make(chan string, 1)}
	o, err := NewObject(c, parent, resource, Descriptor{
		Type:        "Item",
		Initializer: map[string]any{"name": name},
		Handler:     h,
	})
	return o, h, err
}

func mustItem(t *testing.T, c *Connection, parent *Object, name string) (*Object, *itemHandler) {
	t.Helper()
	o, h, err := newItem(c, parent, name, nil)
	if err != nil {
		t.Fatalf("new item %s: %v", name, err)
	}
	return o, h
}

func call(c *Connection, id uint64, guid, method string, params map[string]any) {
	c.Dispatch(context.Background(), protocol.Message{ID: id, GUID: guid, Method: method, Params: params})
}

func errorName(m protocol.Message) string {
	if m.Error == nil {
		return ""
	}
	return m.Error.Name
}
