package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/transport"
	"github.com/rs/zerolog/log"
)

var ErrNotRunning = errors.New("client: not running")

// Event is one server-emitted event on an object.
type Event struct {
	GUID   string
	Type   string
	Method string
	Params map[string]any
}

// CallError is a failed call. Err is the rebuilt typed error.
type CallError struct {
	Method string
	Err    error
	Log    []string
}

func (e *CallError) Error() string {
	msg := e.Err.Error()
	if len(e.Log) > 0 {
		msg += "\nCall log:\n" + strings.Join(e.Log, "\n")
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Err }

type Client struct {
	t transport.Transport

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]chan protocol.Message
	objects   map[string]*Object
	listeners map[uint64]func(Event)
	nextSub   uint64
	closed    bool
	closeErr  error
}

func New(t transport.Transport) *Client {
	c := &Client{
		t:         t,
		pending:   make(map[uint64]chan protocol.Message),
		objects:   make(map[string]*Object),
		listeners: make(map[uint64]func(Event)),
	}
	c.objects[""] = newObject("", "Root", nil, "")
	return c
}

// Run reads envelopes until the transport fails or ctx ends. Pending and
// later calls then fail with DisconnectedError.
func (c *Client) Run(ctx context.Context) error {
	var err error
	for {
		var msg protocol.Message
		msg, err = c.t.Recv(ctx)
		if err != nil {
			break
		}
		c.handle(msg)
	}
	c.fail(err)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) handle(msg protocol.Message) {
	switch msg.Kind() {
	case protocol.KindReply:
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if !ok {
			log.Warn().Uint64("id", msg.ID).Msg("client.Client.handle unexpected reply")
			return
		}
		ch <- msg
	case protocol.KindCreate:
		c.onCreate(msg)
	case protocol.KindAdopt:
		c.onAdopt(msg)
	case protocol.KindDispose:
		c.onDispose(msg)
	case protocol.KindEvent:
		c.onEvent(msg)
	default:
		log.Warn().Str("guid", msg.GUID).Str("method", msg.Method).Msg("client.Client.handle invalid envelope")
	}
}

func (c *Client) onCreate(msg protocol.Message) {
	typ, _ := msg.Params["type"].(string)
	guid, _ := msg.Params["guid"].(string)
	init, _ := msg.Params["initializer"].(map[string]any)
	c.mu.Lock()
	defer c.mu.Unlock()
	parent, ok := c.objects[msg.GUID]
	if !ok {
		log.Warn().Str("parent", msg.GUID).Str("guid", guid).Msg("client.Client.onCreate unknown parent")
		return
	}
	o := newObject(guid, typ, init, msg.GUID)
	c.objects[guid] = o
	parent.children[guid] = o
}

func (c *Client) onAdopt(msg protocol.Message) {
	guid, _ := msg.Params["guid"].(string)
	c.mu.Lock()
	defer c.mu.Unlock()
	child, ok := c.objects[guid]
	parent, pok := c.objects[msg.GUID]
	if !ok || !pok {
		log.Warn().Str("parent", msg.GUID).Str("guid", guid).Msg("client.Client.onAdopt unknown object")
		return
	}
	if old, ok := c.objects[child.parent]; ok {
		delete(old.children, guid)
	}
	child.parent = msg.GUID
	parent.children[guid] = child
}

func (c *Client) onDispose(msg protocol.Message) {
	reason, _ := msg.Params["reason"].(string)
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[msg.GUID]
	if !ok {
		return
	}
	if parent, ok := c.objects[o.parent]; ok {
		delete(parent.children, o.GUID)
	}
	c.forgetLocked(o, reason)
}

func (c *Client) forgetLocked(o *Object, reason string) {
	for _, child := range o.children {
		c.forgetLocked(child, reason)
	}
	o.children = make(map[string]*Object)
	o.disposed = true
	o.reason = reason
	delete(c.objects, o.GUID)
}

func (c *Client) onEvent(msg protocol.Message) {
	c.mu.Lock()
	o, ok := c.objects[msg.GUID]
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	fns := make([]func(Event), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()
	if !ok {
		log.Debug().Str("guid", msg.GUID).Str("method", msg.Method).Msg("client.Client.onEvent unknown object")
		return
	}
	ev := Event{GUID: msg.GUID, Type: o.Type, Method: msg.Method, Params: msg.Params}
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) fail(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = &protocol.DisconnectedError{Cause: cause}
	pending := c.pending
	c.pending = make(map[uint64]chan protocol.Message)
	c.mu.Unlock()

	for id, ch := range pending {
		ch <- protocol.ErrorReply(id, c.closeErr, nil)
	}
	log.Debug().Err(cause).Int("pending", len(pending)).Msg("client.Client.fail disconnected")
}

// Call sends method to guid and waits for the reply.
func (c *Client) Call(ctx context.Context, guid, method string, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	ch := make(chan protocol.Message, 1)
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.t.Send(protocol.Message{ID: id, GUID: guid, Method: method, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, &protocol.DisconnectedError{Cause: err}
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case reply := <-ch:
		if reply.Error != nil {
			if reply.Error.Name == protocol.NameDisconnectedError && len(reply.Log) == 0 {
				return nil, protocol.ParseError(reply.Error)
			}
			return nil, &CallError{Method: method, Err: protocol.ParseError(reply.Error), Log: reply.Log}
		}
		result, _ := reply.Result.(map[string]any)
		return result, nil
	}
}

// Initialize calls the root's initialize and returns the Host mirror.
func (c *Client) Initialize(ctx context.Context, clientName string) (*Object, error) {
	result, err := c.Call(ctx, "", "initialize", map[string]any{"client": clientName})
	if err != nil {
		return nil, err
	}
	guid := ChannelGUID(result["host"])
	host, ok := c.Object(guid)
	if !ok {
		return nil, fmt.Errorf("client: initialize returned unknown host %q", guid)
	}
	return host, nil
}

// Object returns the live mirror for guid.
func (c *Client) Object(guid string) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[guid]
	return o, ok
}

// Parent returns the current parent guid of a live object.
func (c *Client) Parent(guid string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[guid]
	if !ok {
		return "", false
	}
	return o.parent, true
}

// Children lists child guids of a live object in sorted order.
func (c *Client) Children(guid string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[guid]
	if !ok {
		return nil
	}
	return o.childGUIDs()
}

// DisposeReason reports whether o was disposed and why.
func (c *Client) DisposeReason(o *Object) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return o.reason, o.disposed
}

// Len is the number of live mirrored objects including the root.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

// OnEvent subscribes fn to every event and returns its unsubscribe func.
// fn runs on the reader goroutine and must not block on calls.
func (c *Client) OnEvent(fn func(Event)) func() {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) Close() error {
	return c.t.Close()
}
