package dispatcher

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/danmuck/edgerpc/internal/instrumentation"
	"github.com/danmuck/edgerpc/internal/progress"
	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultBucketCapacity = 10000

// SendFunc writes one envelope to the peer.
type SendFunc func(msg protocol.Message) error

type Config struct {
	// ID names the connection; empty generates a uuid.
	ID       string
	Registry *schema.Registry
	Encoding schema.Encoding
	Mode     progress.Mode
	// Debug turns lifecycle misuse (double dispose, events after dispose)
	// into errors.
	Debug bool
	Hooks instrumentation.Hooks
	// BucketCapacity is the live-object cap for buckets without an entry
	// in Buckets.
	BucketCapacity int
	Buckets        map[string]int
	Initialize     InitializeFunc
	Send           SendFunc
}

// Connection is the protocol engine for one peer.
type Connection struct {
	id       string
	cfg      Config
	registry *schema.Registry
	hooks    instrumentation.Hooks
	inCtx    *schema.Context
	outCtx   *schema.Context
	callSeq  atomic.Uint64

	mu        sync.Mutex
	arena     *arena
	buckets   map[string]*list.List
	resources map[any]*Object
	waits     map[string]*instrumentation.CallMetadata
	active    map[*progress.Controller]struct{}
	root      *Object
	closed    bool
	closeErr  error
	outq      []protocol.Message
	send      SendFunc

	sendMu sync.Mutex
	calls  sync.WaitGroup
}

func NewConnection(cfg Config) *Connection {
	if cfg.Registry == nil {
		cfg.Registry = schema.NewRegistry()
	}
	if cfg.Hooks == nil {
		cfg.Hooks = instrumentation.Nop{}
	}
	if cfg.BucketCapacity <= 0 {
		cfg.BucketCapacity = DefaultBucketCapacity
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	c := &Connection{
		id:        cfg.ID,
		cfg:       cfg,
		registry:  cfg.Registry,
		hooks:     cfg.Hooks,
		arena:     newArena(),
		buckets:   make(map[string]*list.List),
		resources: make(map[any]*Object),
		waits:     make(map[string]*instrumentation.CallMetadata),
		active:    make(map[*progress.Controller]struct{}),
		send:      cfg.Send,
	}
	c.inCtx = &schema.Context{Binary: cfg.Encoding.InboundMode(), Channels: c, UnderTest: cfg.Debug}
	c.outCtx = &schema.Context{Binary: cfg.Encoding.OutboundMode(), Outbound: true, UnderTest: cfg.Debug}
	c.root = c.newRoot(cfg.Initialize)
	log.Debug().Str("conn", c.id).Str("encoding", cfg.Encoding.String()).Str("mode", cfg.Mode.String()).Msg("dispatcher.NewConnection")
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Root() *Object { return c.root }

func (c *Connection) Registry() *schema.Registry { return c.registry }

func (c *Connection) Encoding() schema.Encoding { return c.cfg.Encoding }

// Lookup returns the live object registered under guid.
func (c *Connection) Lookup(guid string) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena.lookup(guid)
}

// Deref resolves a handle; stale handles of disposed objects fail.
func (c *Connection) Deref(h Handle) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena.get(h)
}

// Resolve implements schema.ChannelResolver.
func (c *Connection) Resolve(guid string) (schema.Channel, bool) {
	o, ok := c.Lookup(guid)
	if !ok {
		return nil, false
	}
	return o, true
}

// Len is the number of live objects including the root.
func (c *Connection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena.len()
}

// BucketLen is the number of live objects in bucket.
func (c *Connection) BucketLen(bucket string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.buckets[bucket]; ok {
		return l.Len()
	}
	return 0
}

// Existing returns the object already created for resource, if any.
func (c *Connection) Existing(resource any) (*Object, bool) {
	key, ok := resourceKey(resource)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.resources[key]
	return o, ok
}

// FromResource returns the existing object for resource or creates one
// from the descriptor build returns.
func (c *Connection) FromResource(parent *Object, resource any, build func() Descriptor) (*Object, error) {
	if o, ok := c.Existing(resource); ok {
		return o, nil
	}
	o, err := NewObject(c, parent, resource, build())
	if errors.Is(err, ErrDuplicateResource) {
		if existing, ok := c.Existing(resource); ok {
			return existing, nil
		}
	}
	return o, err
}

func (c *Connection) capacity(bucket string) int {
	if n, ok := c.cfg.Buckets[bucket]; ok && n > 0 {
		return n
	}
	return c.cfg.BucketCapacity
}

func (c *Connection) bucketLocked(bucket string) *list.List {
	l, ok := c.buckets[bucket]
	if !ok {
		l = list.New()
		c.buckets[bucket] = l
	}
	return l
}

// collectGarbageLocked disposes the oldest objects of an over-capacity
// bucket with reason "gc".
func (c *Connection) collectGarbageLocked(bucket string) teardown {
	var td teardown
	l, ok := c.buckets[bucket]
	if !ok {
		return td
	}
	limit := c.capacity(bucket)
	if l.Len() <= limit {
		return td
	}
	count := max(limit/10, l.Len()-limit, 1)
	victims := make([]*Object, 0, count)
	for e := l.Front(); e != nil && len(victims) < count; e = e.Next() {
		victims = append(victims, e.Value.(*Object))
	}
	for _, v := range victims {
		if v.disposed {
			continue
		}
		td.merge(c.disposeLocked(v, "gc", true))
	}
	log.Debug().Str("conn", c.id).Str("bucket", bucket).Int("evicted", len(victims)).Int("capacity", limit).Msg("dispatcher.Connection.collectGarbage")
	return td
}

func (c *Connection) validateOutbound(typ, method string, phase schema.Phase, value any) (any, error) {
	if value == nil && phase != schema.PhaseResult {
		value = map[string]any{}
	}
	return c.registry.Validate(typ, method, phase, value, "", c.outCtx)
}

func (c *Connection) validateInbound(typ, method string, phase schema.Phase, value any) (any, error) {
	return c.registry.Validate(typ, method, phase, value, "", c.inCtx)
}

func (c *Connection) enqueueLocked(msg protocol.Message) {
	if c.closed {
		return
	}
	c.outq = append(c.outq, msg)
}

// flush writes queued envelopes in enqueue order.
func (c *Connection) flush() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for {
		c.mu.Lock()
		send := c.send
		if send == nil || len(c.outq) == 0 {
			c.mu.Unlock()
			return
		}
		batch := c.outq
		c.outq = nil
		c.mu.Unlock()
		for _, msg := range batch {
			if err := send(msg); err != nil {
				log.Warn().Err(err).Str("conn", c.id).Str("guid", msg.GUID).Str("method", msg.Method).Uint64("id", msg.ID).Msg("dispatcher.Connection.flush send failed")
			}
		}
	}
}

func (c *Connection) reply(msg protocol.Message) {
	c.mu.Lock()
	c.enqueueLocked(msg)
	c.mu.Unlock()
	c.flush()
}

// SetSender installs the peer writer and flushes anything queued before it.
func (c *Connection) SetSender(send SendFunc) {
	c.mu.Lock()
	c.send = send
	c.mu.Unlock()
	c.flush()
}

// Closed reports whether Close ran, and with which error.
func (c *Connection) Closed() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeErr
}

// Close models a disconnect: every in-flight call is aborted with a
// DisconnectedError, scope-closing ones included, and the whole tree is
// disposed without sending.
func (c *Connection) Close(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	c.outq = nil
	disconnected := &protocol.DisconnectedError{Cause: cause}
	var td teardown
	for ctrl := range c.active {
		td.aborts = append(td.aborts, abortRequest{ctrl: ctrl, err: disconnected})
	}
	for _, child := range c.root.children {
		td.merge(c.disposeLocked(child, "disconnected", false))
	}
	c.mu.Unlock()
	td.run()
	log.Info().Str("conn", c.id).AnErr("cause", cause).Msg("dispatcher.Connection.Close")
}

// Wait blocks until every call started by Serve returned.
func (c *Connection) Wait() {
	c.calls.Wait()
}

// Transport is the envelope stream a Connection serves.
type Transport interface {
	Send(msg protocol.Message) error
	Recv(ctx context.Context) (protocol.Message, error)
}

// Serve reads envelopes from t until it fails, accepting them in arrival
// order and running each call on its own goroutine. On exit the
// connection is closed and in-flight calls are drained.
func (c *Connection) Serve(ctx context.Context, t Transport) error {
	c.SetSender(t.Send)
	var err error
	for {
		var msg protocol.Message
		msg, err = t.Recv(ctx)
		if err != nil {
			break
		}
		run := c.Accept(ctx, msg)
		if run == nil {
			continue
		}
		c.calls.Add(1)
		go func() {
			defer c.calls.Done()
			run()
		}()
	}
	c.Close(err)
	c.calls.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
