package objects

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/edgerpc/internal/client"
	"github.com/danmuck/edgerpc/internal/dispatcher"
	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/resources"
	"github.com/danmuck/edgerpc/internal/transport"
)

type harness struct {
	conn   *dispatcher.Connection
	client *client.Client
	hub    *resources.Hub
	host   *client.Object
}

func startHarness(t *testing.T, entryCapacity int) *harness {
	t.Helper()
	serverEnd, clientEnd := transport.NewPipe()
	hub := resources.NewHub()
	cfg := dispatcher.Config{
		Registry:   NewRegistry(),
		Encoding:   serverEnd.Encoding(),
		Initialize: Initializer(Options{Hub: hub, Version: "test"}),
	}
	if entryCapacity > 0 {
		cfg.Buckets = map[string]int{TypeEntry: entryCapacity}
	}
	conn := dispatcher.NewConnection(cfg)
	cli := client.New(clientEnd)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan struct{})
	runDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = conn.Serve(ctx, serverEnd)
	}()
	go func() {
		defer close(runDone)
		_ = cli.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-serveDone
		<-runDone
		hub.Close("test over")
	})

	host, err := cli.Initialize(context.Background(), "objects-test")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return &harness{conn: conn, client: cli, hub: hub, host: host}
}

func (h *harness) call(t *testing.T, guid, method string, params map[string]any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := h.client.Call(ctx, guid, method, params)
	if err != nil {
		t.Fatalf("%s.%s: %v", guid, method, err)
	}
	return result
}

func (h *harness) callErr(guid, method string, params map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := h.client.Call(ctx, guid, method, params)
	return err
}

func (h *harness) openStore(t *testing.T, name string) string {
	t.Helper()
	res := h.call(t, h.host.GUID, "openStore", map[string]any{"name": name})
	guid := client.ChannelGUID(res["store"])
	if guid == "" {
		t.Fatalf("openStore returned no guid: %+v", res)
	}
	return guid
}

func (h *harness) awaitActiveCalls(t *testing.T, guid string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o, ok := h.conn.Lookup(guid); ok && o.ActiveCalls() == n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("%s never reached %d active calls", guid, n)
}

func remoteName(err error) string {
	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		return remote.Name
	}
	return protocol.ErrorName(err)
}
