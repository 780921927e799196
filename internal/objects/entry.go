package objects

import (
	"github.com/danmuck/edgerpc/internal/dispatcher"
	"github.com/danmuck/edgerpc/internal/progress"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
)

// entry is a point-in-time copy of one store value.
type entry struct {
	key   string
	value []byte
}

type entryHandler struct {
	obj   *dispatcher.Object
	entry *entry
}

func newEntryObject(store *dispatcher.Object, key string, value []byte) (*dispatcher.Object, error) {
	e := &entry{key: key, value: value}
	return dispatcher.NewObject(store.Connection(), store, e, dispatcher.Descriptor{
		Type:        TypeEntry,
		GCBucket:    TypeEntry,
		Initializer: map[string]any{"key": key, "value": value},
		Handler:     &entryHandler{entry: e},
	})
}

func (h *entryHandler) Bind(o *dispatcher.Object) { h.obj = o }

func (h *entryHandler) Methods() map[string]dispatcher.Method {
	return map[string]dispatcher.Method{
		"read":    {Fn: h.read},
		"dispose": {Fn: h.dispose, ClosesScope: true},
	}
}

func (h *entryHandler) read(_ *progress.Progress, _ schema.Params) (any, error) {
	return map[string]any{"key": h.entry.key, "value": h.entry.value}, nil
}

func (h *entryHandler) dispose(_ *progress.Progress, _ schema.Params) (any, error) {
	return nil, h.obj.Dispose("")
}
