package objects

import (
	"github.com/danmuck/edgerpc/internal/dispatcher"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
)

const (
	TypeHost  = "Host"
	TypeStore = "Store"
	TypeEntry = "Entry"

	EventChanged = "changed"
	EventClosed  = "closed"
)

// NewRegistry returns a registry holding every scheme this package serves.
func NewRegistry() *schema.Registry {
	r := schema.NewRegistry()
	Register(r)
	return r
}

// Register adds the Root, Host, Store and Entry schemes to r.
func Register(r *schema.Registry) {
	empty := schema.Optional(schema.Object())
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(r.RegisterMethod(dispatcher.RootType, dispatcher.MethodInitialize,
		schema.Object(schema.Prop("client", schema.Optional(schema.String))),
		schema.Object(schema.Prop("host", schema.ChannelOf(TypeHost))),
	))

	r.MustRegister(TypeHost, "", schema.PhaseInitializer, schema.Object(
		schema.Prop("version", schema.String),
		schema.Prop("connId", schema.String),
	))
	must(r.RegisterMethod(TypeHost, "openStore",
		schema.Object(schema.Prop("name", schema.String)),
		schema.Object(schema.Prop("store", schema.ChannelOf(TypeStore))),
	))
	must(r.RegisterMethod(TypeHost, "listStores",
		schema.Optional(schema.Object()),
		schema.Object(schema.Prop("names", schema.Array(schema.String))),
	))

	r.MustRegister(TypeStore, "", schema.PhaseInitializer, schema.Object(schema.Prop("name", schema.String)))
	r.MustRegister(TypeStore, EventChanged, schema.PhaseEvent, schema.Object(
		schema.Prop("key", schema.String),
		schema.Prop("value", schema.Optional(schema.Binary)),
		schema.Prop("deleted", schema.Bool),
	))
	r.MustRegister(TypeStore, EventClosed, schema.PhaseEvent, schema.Object(
		schema.Prop("reason", schema.Optional(schema.String)),
	))
	must(r.RegisterMethod(TypeStore, "put",
		schema.Object(schema.Prop("key", schema.String), schema.Prop("value", schema.Binary)),
		empty,
	))
	must(r.RegisterMethod(TypeStore, "get",
		schema.Object(schema.Prop("key", schema.String)),
		schema.Object(schema.Prop("found", schema.Bool), schema.Prop("value", schema.Optional(schema.Binary))),
	))
	must(r.RegisterMethod(TypeStore, "delete",
		schema.Object(schema.Prop("key", schema.String)),
		schema.Object(schema.Prop("deleted", schema.Bool)),
	))
	must(r.RegisterMethod(TypeStore, "keys",
		schema.Optional(schema.Object(schema.Prop("prefix", schema.Optional(schema.String)))),
		schema.Object(schema.Prop("keys", schema.Array(schema.String))),
	))
	must(r.RegisterMethod(TypeStore, "snapshot",
		schema.Object(schema.Prop("key", schema.String)),
		schema.Object(schema.Prop("entry", schema.ChannelOf(TypeEntry))),
	))
	must(r.RegisterMethod(TypeStore, "transfer",
		schema.Object(schema.Prop("entry", schema.ChannelOf(TypeEntry))),
		empty,
	))
	must(r.RegisterMethod(TypeStore, "waitForKey",
		schema.Object(schema.Prop("key", schema.String), schema.Prop("timeout", schema.Optional(schema.Float))),
		schema.Object(schema.Prop("value", schema.Binary)),
	))
	must(r.RegisterMethod(TypeStore, "close",
		schema.Optional(schema.Object(schema.Prop("reason", schema.Optional(schema.String)))),
		empty,
	))
	must(r.RegisterWaitForEventInfo(TypeStore))

	r.MustRegister(TypeEntry, "", schema.PhaseInitializer, schema.Object(
		schema.Prop("key", schema.String),
		schema.Prop("value", schema.Binary),
	))
	must(r.RegisterMethod(TypeEntry, "read",
		schema.Optional(schema.Object()),
		schema.Object(schema.Prop("key", schema.String), schema.Prop("value", schema.Binary)),
	))
	must(r.RegisterMethod(TypeEntry, "dispose", schema.Optional(schema.Object()), empty))
}
