package dispatcher

import (
	"sync/atomic"

	"github.com/danmuck/edgerpc/internal/progress"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
)

const (
	RootType         = "Root"
	MethodInitialize = "initialize"
)

// InitializeFunc bootstraps the object graph on the root's first
// initialize call and returns its result.
type InitializeFunc func(p *progress.Progress, root *Object, params schema.Params) (any, error)

type rootHandler struct {
	root        *Object
	initialize  InitializeFunc
	initialized atomic.Bool
}

func (h *rootHandler) Bind(o *Object) { h.root = o }

func (h *rootHandler) Methods() map[string]Method {
	if h.initialize == nil {
		return map[string]Method{}
	}
	return map[string]Method{
		MethodInitialize: {Fn: h.onInitialize},
	}
}

func (h *rootHandler) onInitialize(p *progress.Progress, params schema.Params) (any, error) {
	if !h.initialized.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInitialized
	}
	return h.initialize(p, h.root, params)
}

// newRoot registers the root under guid "". It is never announced with
// __create__ and lives in no GC bucket.
func (c *Connection) newRoot(initialize InitializeFunc) *Object {
	h := &rootHandler{initialize: initialize}
	o := &Object{
		conn:        c,
		guid:        "",
		typ:         RootType,
		bucket:      RootType,
		handler:     h,
		children:    make(map[string]*Object),
		activeCalls: make(map[*progress.Controller]bool),
	}
	o.methods = h.Methods()
	h.Bind(o)
	c.mu.Lock()
	o.handle = c.arena.insert(o)
	c.mu.Unlock()
	return o
}
