package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/testutil/testlog"
)

type fakeChannel struct {
	guid string
	typ  string
}

func (c *fakeChannel) GUID() string { return c.guid }
func (c *fakeChannel) Type() string { return c.typ }

type fakeResolver map[string]*fakeChannel

func (r fakeResolver) Resolve(guid string) (Channel, bool) {
	ch, ok := r[guid]
	if !ok {
		return nil, false
	}
	return ch, true
}

func storePutParams() Validator {
	return Object(
		Prop("key", String),
		Prop("value", Binary),
		Prop("ttl", Optional(Int)),
		Prop("ratio", Optional(Float)),
		Prop("sync", Optional(Bool)),
		Prop("target", Optional(ChannelOf("Store"))),
		Prop("tags", Optional(Array(String))),
	)
}

func TestObjectRoundTripAcrossWire(t *testing.T) {
	testlog.Start(t)

	store := &fakeChannel{guid: "Store@01", typ: "Store"}
	resolver := fakeResolver{store.guid: store}
	v := storePutParams()

	internal := map[string]any{
		"key":    "alpha",
		"value":  []byte{0x00, 0xff, 0x10},
		"ttl":    30,
		"ratio":  0.5,
		"sync":   true,
		"target": Channel(store),
		"tags":   []string{"a", "b"},
	}
	wire, err := v(internal, "", &Context{Binary: BinaryToBase64, Outbound: true})
	if err != nil {
		t.Fatalf("outbound validate: %v", err)
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	back, err := v(decoded, "", &Context{Binary: BinaryFromBase64, Channels: resolver})
	if err != nil {
		t.Fatalf("inbound validate: %v", err)
	}
	got := back.(map[string]any)
	if got["key"] != "alpha" || got["ttl"] != 30 || got["ratio"] != 0.5 || got["sync"] != true {
		t.Fatalf("primitive mismatch: %#v", got)
	}
	if !bytes.Equal(got["value"].([]byte), []byte{0x00, 0xff, 0x10}) {
		t.Fatalf("binary mismatch: %#v", got["value"])
	}
	if got["target"] != Channel(store) {
		t.Fatalf("expected live channel back, got %#v", got["target"])
	}
	if !reflect.DeepEqual(got["tags"], []any{"a", "b"}) {
		t.Fatalf("array mismatch: %#v", got["tags"])
	}
}

func TestObjectDropsUnknownAndOmitsAbsent(t *testing.T) {
	testlog.Start(t)

	out, err := storePutParams()(map[string]any{
		"key":   "k",
		"value": []byte("v"),
		"extra": 1,
	}, "", &Context{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	m := out.(map[string]any)
	if _, ok := m["extra"]; ok {
		t.Fatalf("unknown key must be dropped")
	}
	if _, ok := m["ttl"]; ok {
		t.Fatalf("absent optional must be omitted")
	}
	if len(m) != 2 {
		t.Fatalf("unexpected keys: %#v", m)
	}
}

func TestValidationErrorPaths(t *testing.T) {
	testlog.Start(t)

	v := Object(Prop("items", Array(Object(Prop("name", String)))))
	_, err := v(map[string]any{"items": []any{
		map[string]any{"name": "ok"},
		map[string]any{"name": 7.0},
	}}, "", &Context{})
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err.Error() != "items[1].name: expected string, got number" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if protocol.ErrorName(err) != protocol.NameValidationError {
		t.Fatalf("unexpected wire name: %q", protocol.ErrorName(err))
	}
}

func TestIntRejectsFractions(t *testing.T) {
	testlog.Start(t)

	if _, err := Int(1.5, "n", nil); err == nil {
		t.Fatalf("expected fraction rejection")
	}
	got, err := Int(float64(42), "n", nil)
	if err != nil || got != 42 {
		t.Fatalf("unexpected int result: %v %v", got, err)
	}
}

func TestChannelResolutionFailures(t *testing.T) {
	testlog.Start(t)

	resolver := fakeResolver{"Entry@1": {guid: "Entry@1", typ: "Entry"}}
	v := ChannelOf("Store")
	ctx := &Context{Channels: resolver}

	_, err := v(map[string]any{"guid": "Store@missing"}, "target", ctx)
	if err == nil || err.Error() != "target: no object with guid Store@missing" {
		t.Fatalf("unexpected missing guid error: %v", err)
	}
	_, err = v(map[string]any{"guid": "Entry@1"}, "target", ctx)
	if err == nil || err.Error() != "target: object with guid Entry@1 has type Entry, expected Store" {
		t.Fatalf("unexpected type error: %v", err)
	}
	_, err = v(&fakeChannel{guid: "Entry@1", typ: "Entry"}, "target", &Context{Outbound: true})
	if err == nil || !strings.Contains(err.Error(), "expected dispatcher Store") {
		t.Fatalf("unexpected outbound error: %v", err)
	}
	if _, err := ChannelOf("*")(map[string]any{"guid": "Entry@1"}, "", ctx); err != nil {
		t.Fatalf("wildcard channel: %v", err)
	}
}

func TestNilReferencesOutbound(t *testing.T) {
	testlog.Start(t)

	out := &Context{Outbound: true}
	var missing *fakeChannel
	got, err := Optional(ChannelOf("Store"))(missing, "target", out)
	if err != nil || got != nil {
		t.Fatalf("typed nil must read as absent: %v %v", got, err)
	}
	if _, err := ChannelOf("Store")(missing, "target", out); err == nil || !strings.Contains(err.Error(), "expected dispatcher Store") {
		t.Fatalf("required reference must reject typed nil: %v", err)
	}

	var init map[string]any
	obj, err := Object(Prop("name", Optional(String)))(init, "", out)
	if err != nil || len(obj.(map[string]any)) != 0 {
		t.Fatalf("nil map must validate as empty object: %v %v", obj, err)
	}
}

func TestBinaryModes(t *testing.T) {
	testlog.Start(t)

	if _, err := Binary("aGk=", "b", &Context{Binary: BinaryBuffer}); err == nil {
		t.Fatalf("buffer mode must reject strings")
	}
	out, err := Binary("aGk=", "b", &Context{Binary: BinaryFromBase64})
	if err != nil || string(out.([]byte)) != "hi" {
		t.Fatalf("unexpected base64 decode: %v %v", out, err)
	}
	if _, err := Binary("not base64!", "b", &Context{Binary: BinaryFromBase64}); err == nil {
		t.Fatalf("expected invalid base64 error")
	}
	out, err = Binary([]byte("hi"), "b", &Context{Binary: BinaryToBase64})
	if err != nil || out != "aGk=" {
		t.Fatalf("unexpected base64 encode: %v %v", out, err)
	}
}

func TestRegistryUnknownScheme(t *testing.T) {
	testlog.Start(t)

	r := NewRegistry()
	if err := r.RegisterMethod("Store", "put", storePutParams(), Optional(Object())); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("Store", "put", PhaseParams, Any); !errors.Is(err, ErrDuplicateScheme) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	_, err := r.Validate("Store", "launch", PhaseParams, map[string]any{}, "", &Context{})
	if err == nil || err.Error() != "Unknown scheme for Params: Store.launch" {
		t.Fatalf("unexpected unknown scheme error: %v", err)
	}
	out, err := r.Validate("Store", "put", PhaseResult, nil, "", &Context{})
	if err != nil || out != nil {
		t.Fatalf("expected empty result to pass, got %v %v", out, err)
	}
}

func TestRegistryRefResolvesNamedTypes(t *testing.T) {
	testlog.Start(t)

	r := NewRegistry()
	r.RegisterType("Location", Object(Prop("file", String), Prop("line", Optional(Int))))
	v := Object(Prop("where", r.Ref("Location")))
	out, err := v(map[string]any{"where": map[string]any{"file": "a.go", "line": 3.0}}, "", &Context{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	where := out.(map[string]any)["where"].(map[string]any)
	if where["line"] != 3 {
		t.Fatalf("unexpected line: %#v", where["line"])
	}
	if _, err := r.Ref("Missing")(map[string]any{}, "x", &Context{}); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestWaitInfoAndMetadata(t *testing.T) {
	testlog.Start(t)

	out, err := WaitInfo(map[string]any{"info": map[string]any{"waitId": "w1", "phase": "log", "message": "polling"}}, "", &Context{})
	if err != nil {
		t.Fatalf("wait info: %v", err)
	}
	info := Params(out.(map[string]any)).Map("info")
	if info.String("phase") != WaitLog || info.String("message") != "polling" {
		t.Fatalf("unexpected info: %#v", info)
	}
	if _, err := WaitInfo(map[string]any{"info": map[string]any{"waitId": "w1", "phase": "during"}}, "", &Context{}); err == nil {
		t.Fatalf("expected enum rejection")
	}

	md, err := Metadata(map[string]any{"apiName": "store.put", "location": map[string]any{"file": "main.go", "line": 10.0}}, "", &Context{})
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	loc := Params(md.(map[string]any)).Map("location")
	if line, _ := loc.Int("line"); line != 10 || loc.String("file") != "main.go" {
		t.Fatalf("unexpected location: %#v", loc)
	}
}

func TestUndefinedAndEnum(t *testing.T) {
	testlog.Start(t)

	if _, err := Undefined("x", "u", nil); err == nil {
		t.Fatalf("expected undefined rejection")
	}
	if _, err := Enum("a", "b")("c", "e", nil); err == nil || !strings.Contains(err.Error(), "(a|b)") {
		t.Fatalf("unexpected enum error: %v", err)
	}
}
