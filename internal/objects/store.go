package objects

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/edgerpc/internal/dispatcher"
	"github.com/danmuck/edgerpc/internal/progress"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/danmuck/edgerpc/internal/resources"
	"github.com/rs/zerolog/log"
)

// ErrMissingEntry is returned by snapshot for an absent key.
var ErrMissingEntry = errors.New("objects: missing entry")

type storeHandler struct {
	obj    *dispatcher.Object
	hub    *resources.Hub
	kv     *resources.KV
	attach sync.Once
}

// openStoreObject returns the connection's Store for kv, creating and
// subscribing it on first use.
func openStoreObject(host *dispatcher.Object, hub *resources.Hub, kv *resources.KV) (*dispatcher.Object, error) {
	conn := host.Connection()
	obj, err := conn.FromResource(host, kv, func() dispatcher.Descriptor {
		return dispatcher.Descriptor{
			Type:        TypeStore,
			Initializer: map[string]any{"name": kv.Name()},
			Handler:     &storeHandler{hub: hub, kv: kv},
		}
	})
	if err != nil {
		return nil, err
	}
	if h, ok := obj.Handler().(*storeHandler); ok {
		h.attach.Do(h.subscribe)
	}
	return obj, nil
}

func (h *storeHandler) Bind(o *dispatcher.Object) { h.obj = o }

func (h *storeHandler) subscribe() {
	h.obj.Track(h.kv.On(resources.EventChanged, func(payload any) {
		change := payload.(resources.Change)
		params := map[string]any{"key": change.Key, "deleted": change.Deleted}
		if !change.Deleted {
			params["value"] = change.Value
		}
		if err := h.obj.DispatchEvent(EventChanged, params); err != nil {
			log.Debug().Err(err).Str("guid", h.obj.GUID()).Msg("objects.Store.changed dropped")
		}
	}))
	h.obj.Track(h.kv.On(resources.EventClosed, func(payload any) {
		reason, _ := payload.(string)
		params := map[string]any{}
		if reason != "" {
			params["reason"] = reason
		}
		_ = h.obj.DispatchEvent(EventClosed, params)
		_ = h.obj.Dispose(reason)
	}))
}

func (h *storeHandler) OnDispose(reason string) {
	log.Debug().Str("guid", h.obj.GUID()).Str("store", h.kv.Name()).Str("reason", reason).Msg("objects.Store.OnDispose")
}

func (h *storeHandler) Methods() map[string]dispatcher.Method {
	return map[string]dispatcher.Method{
		"put":        {Fn: h.put},
		"get":        {Fn: h.get},
		"delete":     {Fn: h.delete},
		"keys":       {Fn: h.keys},
		"snapshot":   {Fn: h.snapshot},
		"transfer":   {Fn: h.transfer},
		"waitForKey": {Fn: h.waitForKey},
		"close":      {Fn: h.close, ClosesScope: true},
	}
}

func (h *storeHandler) put(_ *progress.Progress, params schema.Params) (any, error) {
	return nil, h.kv.Put(params.String("key"), params.Bytes("value"))
}

func (h *storeHandler) get(_ *progress.Progress, params schema.Params) (any, error) {
	value, found, err := h.kv.Get(params.String("key"))
	if err != nil {
		return nil, err
	}
	out := map[string]any{"found": found}
	if found {
		out["value"] = value
	}
	return out, nil
}

func (h *storeHandler) delete(_ *progress.Progress, params schema.Params) (any, error) {
	deleted, err := h.kv.Delete(params.String("key"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": deleted}, nil
}

func (h *storeHandler) keys(_ *progress.Progress, params schema.Params) (any, error) {
	return map[string]any{"keys": h.kv.Keys(params.String("prefix"))}, nil
}

func (h *storeHandler) snapshot(_ *progress.Progress, params schema.Params) (any, error) {
	key := params.String("key")
	value, found, err := h.kv.Get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntry, key)
	}
	entry, err := newEntryObject(h.obj, key, value)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entry": entry}, nil
}

func (h *storeHandler) transfer(_ *progress.Progress, params schema.Params) (any, error) {
	entry, ok := params.Channel("entry").(*dispatcher.Object)
	if !ok {
		return nil, fmt.Errorf("objects: entry is not a local object")
	}
	return nil, h.obj.Adopt(entry)
}

// waitForKey resolves with the key's value once it exists.
func (h *storeHandler) waitForKey(p *progress.Progress, params schema.Params) (any, error) {
	key := params.String("key")
	ready := make(chan []byte, 1)
	unsubscribe := h.kv.On(resources.EventChanged, func(payload any) {
		change := payload.(resources.Change)
		if change.Key != key || change.Deleted {
			return
		}
		select {
		case ready <- change.Value:
		default:
		}
	})
	defer unsubscribe()

	value, found, err := h.kv.Get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		p.Log(fmt.Sprintf("waiting for key %q", key))
		if value, err = progress.Race(p, ready); err != nil {
			return nil, err
		}
	}
	return map[string]any{"value": value}, nil
}

func (h *storeHandler) close(_ *progress.Progress, params schema.Params) (any, error) {
	reason := params.String("reason")
	if !h.hub.CloseStore(h.kv.Name(), reason) {
		h.kv.Close(reason)
	}
	return nil, nil
}
