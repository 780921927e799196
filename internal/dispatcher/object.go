package dispatcher

import (
	"container/list"
	"fmt"
	"reflect"
	"strings"

	"github.com/danmuck/edgerpc/internal/progress"
	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// MethodFunc implements one protocol method. params are already validated.
type MethodFunc func(p *progress.Progress, params schema.Params) (any, error)

type Method struct {
	Fn MethodFunc
	// ClosesScope marks calls that may legitimately outlive their object,
	// such as close; disposal does not abort them.
	ClosesScope bool
}

// Handler supplies the method table of one object type.
type Handler interface {
	Methods() map[string]Method
}

// Binder is implemented by handlers that need their Object before it is
// reachable by guid.
type Binder interface {
	Bind(o *Object)
}

// DisposeHandler is notified once the object left the graph.
type DisposeHandler interface {
	OnDispose(reason string)
}

// ResourceGUID lets an underlying resource pin its object's guid.
type ResourceGUID interface {
	GUID() string
}

// CloseReasoner reports why an underlying resource closed.
type CloseReasoner interface {
	CloseReason() string
}

// Descriptor describes an object at construction.
type Descriptor struct {
	Type        string
	GCBucket    string
	GUID        string
	Initializer map[string]any
	Handler     Handler
}

// Object is one remote object addressed by guid. Mutable fields are
// guarded by the owning Connection's mutex.
type Object struct {
	conn     *Connection
	guid     string
	typ      string
	bucket   string
	resource any
	handler  Handler
	methods  map[string]Method

	handle      Handle
	parent      *Object
	children    map[string]*Object
	disposed    bool
	activeCalls map[*progress.Controller]bool
	tracked     []func()
	bucketElem  *list.Element
}

// NewObject creates a child of parent (the root when parent is nil) and
// announces it to the peer with a __create__ envelope.
func NewObject(conn *Connection, parent *Object, resource any, desc Descriptor) (*Object, error) {
	if strings.TrimSpace(desc.Type) == "" {
		return nil, ErrMissingType
	}
	if parent == nil {
		parent = conn.root
	}
	if parent.conn != conn {
		return nil, fmt.Errorf("dispatcher: parent %s belongs to another connection", parent.guid)
	}

	guid := desc.GUID
	if guid == "" {
		if rg, ok := resource.(ResourceGUID); ok && rg.GUID() != "" {
			guid = rg.GUID()
		} else {
			guid = desc.Type + "@" + ulid.Make().String()
		}
	}
	bucket := desc.GCBucket
	if bucket == "" {
		bucket = desc.Type
	}

	o := &Object{
		conn:        conn,
		guid:        guid,
		typ:         desc.Type,
		bucket:      bucket,
		resource:    resource,
		handler:     desc.Handler,
		children:    make(map[string]*Object),
		activeCalls: make(map[*progress.Controller]bool),
	}
	if desc.Handler != nil {
		o.methods = desc.Handler.Methods()
		if b, ok := desc.Handler.(Binder); ok {
			b.Bind(o)
		}
	}

	initializer, err := conn.validateOutbound(desc.Type, "", schema.PhaseInitializer, desc.Initializer)
	if err != nil {
		return nil, err
	}

	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if parent.disposed {
		conn.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrParentDisposed, parent.guid)
	}
	if conn.arena.has(guid) {
		conn.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateGUID, guid)
	}
	if key, ok := resourceKey(resource); ok {
		if _, taken := conn.resources[key]; taken {
			conn.mu.Unlock()
			return nil, ErrDuplicateResource
		}
		conn.resources[key] = o
	}
	o.handle = conn.arena.insert(o)
	o.parent = parent
	parent.children[guid] = o
	o.bucketElem = conn.bucketLocked(bucket).PushBack(o)
	conn.enqueueLocked(protocol.Message{
		GUID:   parent.guid,
		Method: protocol.MethodCreate,
		Params: protocol.CreateParams(desc.Type, guid, initializer),
	})
	td := conn.collectGarbageLocked(bucket)
	conn.mu.Unlock()

	td.run()
	conn.flush()
	log.Debug().Str("conn", conn.id).Str("guid", guid).Str("parent", parent.guid).Msg("dispatcher.NewObject")
	return o, nil
}

func (o *Object) GUID() string { return o.guid }

func (o *Object) Type() string { return o.typ }

func (o *Object) GCBucket() string { return o.bucket }

func (o *Object) Resource() any { return o.resource }

func (o *Object) Handler() Handler { return o.handler }

func (o *Object) Connection() *Connection { return o.conn }

func (o *Object) Handle() Handle { return o.handle }

func (o *Object) Parent() *Object {
	o.conn.mu.Lock()
	defer o.conn.mu.Unlock()
	return o.parent
}

func (o *Object) Disposed() bool {
	o.conn.mu.Lock()
	defer o.conn.mu.Unlock()
	return o.disposed
}

// Children returns a snapshot of the current children.
func (o *Object) Children() []*Object {
	o.conn.mu.Lock()
	defer o.conn.mu.Unlock()
	out := make([]*Object, 0, len(o.children))
	for _, child := range o.children {
		out = append(out, child)
	}
	return out
}

// ActiveCalls is the number of in-flight calls on this object.
func (o *Object) ActiveCalls() int {
	o.conn.mu.Lock()
	defer o.conn.mu.Unlock()
	return len(o.activeCalls)
}

// Track stores an observer's unsubscribe handle; it runs when the object is
// disposed, or right away if it already is.
func (o *Object) Track(unsubscribe func()) {
	if unsubscribe == nil {
		return
	}
	o.conn.mu.Lock()
	if o.disposed {
		o.conn.mu.Unlock()
		unsubscribe()
		return
	}
	o.tracked = append(o.tracked, unsubscribe)
	o.conn.mu.Unlock()
}

// Adopt re-parents child under o and sends __adopt__. Adopting an own
// child is a no-op.
func (o *Object) Adopt(child *Object) error {
	c := o.conn
	c.mu.Lock()
	if o.disposed || child.disposed {
		c.mu.Unlock()
		return ErrObjectDisposed
	}
	if child.parent == o {
		c.mu.Unlock()
		return nil
	}
	for p := o; p != nil; p = p.parent {
		if p == child {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s into %s", ErrAdoptCycle, child.guid, o.guid)
		}
	}
	delete(child.parent.children, child.guid)
	o.children[child.guid] = child
	child.parent = o
	c.enqueueLocked(protocol.Message{
		GUID:   o.guid,
		Method: protocol.MethodAdopt,
		Params: map[string]any{"guid": child.guid},
	})
	c.mu.Unlock()
	c.flush()
	return nil
}

// DispatchEvent validates params against the Event scheme and sends it.
// After disposal it is an error in debug mode and ignored otherwise.
func (o *Object) DispatchEvent(event string, params map[string]any) error {
	c := o.conn
	if o.Disposed() {
		if c.cfg.Debug {
			return fmt.Errorf("%w: %s.%s", ErrEventAfterDispose, o.guid, event)
		}
		return nil
	}
	wire, err := c.validateOutbound(o.typ, event, schema.PhaseEvent, params)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if o.disposed {
		c.mu.Unlock()
		if c.cfg.Debug {
			return fmt.Errorf("%w: %s.%s", ErrEventAfterDispose, o.guid, event)
		}
		return nil
	}
	c.enqueueLocked(protocol.Message{GUID: o.guid, Method: event, Params: asParams(wire)})
	c.mu.Unlock()
	c.flush()
	return nil
}

// Dispose removes o and its subtree, aborts their in-flight calls and sends
// one __dispose__ for o.
func (o *Object) Dispose(reason string) error {
	c := o.conn
	if o == c.root {
		return ErrRootDispose
	}
	c.mu.Lock()
	if o.disposed {
		c.mu.Unlock()
		log.Warn().Str("conn", c.id).Str("guid", o.guid).Msg("dispatcher.Object.Dispose disposed twice")
		if c.cfg.Debug {
			return fmt.Errorf("%w: %s", ErrDisposedTwice, o.guid)
		}
		return nil
	}
	td := c.disposeLocked(o, reason, true)
	c.mu.Unlock()
	td.run()
	c.flush()
	return nil
}

// teardown holds work collected under the connection lock that must run
// after it is released.
type teardown struct {
	aborts []abortRequest
	hooks  []func()
}

type abortRequest struct {
	ctrl *progress.Controller
	err  error
}

func (td *teardown) run() {
	for _, a := range td.aborts {
		a.ctrl.Abort(a.err)
	}
	for _, fn := range td.hooks {
		fn()
	}
}

func (td *teardown) merge(other teardown) {
	td.aborts = append(td.aborts, other.aborts...)
	td.hooks = append(td.hooks, other.hooks...)
}

// disposeLocked detaches o's subtree. Caller holds c.mu.
func (c *Connection) disposeLocked(o *Object, reason string, announce bool) teardown {
	var td teardown
	cause := &protocol.TargetClosedError{Reason: closeReason(o.resource)}
	c.disposeRecursiveLocked(o, reason, cause, &td)
	if announce {
		var params map[string]any
		if reason != "" {
			params = map[string]any{"reason": reason}
		}
		c.enqueueLocked(protocol.Message{GUID: o.guid, Method: protocol.MethodDispose, Params: params})
	}
	return td
}

func (c *Connection) disposeRecursiveLocked(o *Object, reason string, cause error, td *teardown) {
	if o.disposed {
		return
	}
	for ctrl, closesScope := range o.activeCalls {
		if !closesScope {
			td.aborts = append(td.aborts, abortRequest{ctrl: ctrl, err: cause})
		}
	}
	for _, child := range o.children {
		c.disposeRecursiveLocked(child, reason, cause, td)
	}
	o.children = make(map[string]*Object)
	o.disposed = true
	if o.parent != nil {
		delete(o.parent.children, o.guid)
	}
	c.arena.remove(o.handle)
	if o.bucketElem != nil {
		if l, ok := c.buckets[o.bucket]; ok {
			l.Remove(o.bucketElem)
		}
		o.bucketElem = nil
	}
	if key, ok := resourceKey(o.resource); ok && c.resources[key] == o {
		delete(c.resources, key)
	}
	td.hooks = append(td.hooks, o.tracked...)
	o.tracked = nil
	if dh, ok := o.handler.(DisposeHandler); ok {
		td.hooks = append(td.hooks, func() { dh.OnDispose(reason) })
	}
}

func closeReason(resource any) string {
	if cr, ok := resource.(CloseReasoner); ok {
		return cr.CloseReason()
	}
	return ""
}

func resourceKey(resource any) (any, bool) {
	if resource == nil {
		return nil, false
	}
	if !reflect.TypeOf(resource).Comparable() {
		return nil, false
	}
	return resource, true
}

func asParams(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
