package objects

import (
	"github.com/danmuck/edgerpc/internal/dispatcher"
	"github.com/danmuck/edgerpc/internal/progress"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/danmuck/edgerpc/internal/resources"
	"github.com/rs/zerolog/log"
)

// Options configures the object graph built by Initializer.
type Options struct {
	Hub     *resources.Hub
	Version string
}

// Initializer returns the root initialize factory: it creates the Host
// and hands it back to the client.
func Initializer(opts Options) dispatcher.InitializeFunc {
	if opts.Hub == nil {
		opts.Hub = resources.NewHub()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return func(_ *progress.Progress, root *dispatcher.Object, params schema.Params) (any, error) {
		conn := root.Connection()
		host, err := dispatcher.NewObject(conn, root, nil, dispatcher.Descriptor{
			Type: TypeHost,
			Initializer: map[string]any{
				"version": opts.Version,
				"connId":  conn.ID(),
			},
			Handler: &hostHandler{hub: opts.Hub},
		})
		if err != nil {
			return nil, err
		}
		log.Debug().
			Str("conn_id", conn.ID()).
			Str("client", params.String("client")).
			Str("host", host.GUID()).
			Msg("objects.Initializer host created")
		return map[string]any{"host": host}, nil
	}
}

type hostHandler struct {
	obj *dispatcher.Object
	hub *resources.Hub
}

func (h *hostHandler) Bind(o *dispatcher.Object) { h.obj = o }

func (h *hostHandler) Methods() map[string]dispatcher.Method {
	return map[string]dispatcher.Method{
		"openStore":  {Fn: h.openStore},
		"listStores": {Fn: h.listStores},
	}
}

func (h *hostHandler) openStore(_ *progress.Progress, params schema.Params) (any, error) {
	kv, err := h.hub.Open(params.String("name"))
	if err != nil {
		return nil, err
	}
	store, err := openStoreObject(h.obj, h.hub, kv)
	if err != nil {
		return nil, err
	}
	return map[string]any{"store": store}, nil
}

func (h *hostHandler) listStores(_ *progress.Progress, _ schema.Params) (any, error) {
	return map[string]any{"names": h.hub.Names()}, nil
}
