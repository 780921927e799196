package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/edgerpc/internal/testutil/testlog"
)

func TestMessageKind(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		msg  Message
		want Kind
	}{
		{Message{ID: 1, GUID: "store@1", Method: "put"}, KindCall},
		{Message{ID: 1, Result: map[string]any{}}, KindReply},
		{Message{GUID: "", Method: MethodCreate}, KindCreate},
		{Message{GUID: "host@1", Method: MethodAdopt}, KindAdopt},
		{Message{GUID: "entry@1", Method: MethodDispose}, KindDispose},
		{Message{GUID: "store@1", Method: "changed"}, KindEvent},
		{Message{}, KindInvalid},
	}
	for _, tc := range cases {
		if got := tc.msg.Kind(); got != tc.want {
			t.Fatalf("Kind(%+v)=%s want %s", tc.msg, got, tc.want)
		}
	}
}

func TestValidateCallRejectsReservedMethod(t *testing.T) {
	testlog.Start(t)

	if err := (Message{ID: 3, Method: MethodDispose}).ValidateCall(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if err := (Message{Method: "put"}).ValidateCall(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected missing id rejection, got %v", err)
	}
	if err := (Message{ID: 3, Method: "put"}).ValidateCall(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRootCallOmitsGUIDOnWire(t *testing.T) {
	testlog.Start(t)

	raw, err := json.Marshal(Message{ID: 1, Method: "initialize", Params: map[string]any{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.GUID != "" || decoded.Kind() != KindCall {
		t.Fatalf("unexpected decoded message: %+v", decoded)
	}
}

func TestSerializeErrorKeepsTaxonomy(t *testing.T) {
	testlog.Start(t)

	wrapped := errors.Join(errors.New("context"), &TargetClosedError{Reason: "store closed"})
	se := SerializeError(wrapped)
	if se.Name != NameTargetClosedError {
		t.Fatalf("unexpected name: %q", se.Name)
	}

	parsed := ParseError(&SerializedError{Name: NameTargetClosedError, Message: "Target closed: store closed"})
	var tc *TargetClosedError
	if !errors.As(parsed, &tc) || tc.Reason != "store closed" {
		t.Fatalf("expected TargetClosedError with reason, got %#v", parsed)
	}

	parsed = ParseError(&SerializedError{Name: NameDisconnectedError, Message: "Disconnected: eof"})
	var dc *DisconnectedError
	if !errors.As(parsed, &dc) || dc.Cause == nil || dc.Cause.Error() != "eof" {
		t.Fatalf("expected DisconnectedError with cause, got %#v", parsed)
	}

	parsed = ParseError(&SerializedError{Name: NameTimeoutError, Message: "Timeout 50ms exceeded."})
	if ErrorName(parsed) != NameTimeoutError || parsed.Error() != "Timeout 50ms exceeded." {
		t.Fatalf("unexpected remote error: %#v", parsed)
	}

	if SerializeError(errors.New("boom")).Name != NameError {
		t.Fatalf("plain errors must serialize as Error")
	}
}

func TestParseErrorRebuildsTypedErrors(t *testing.T) {
	testlog.Start(t)

	se := SerializeError(&TimeoutError{Timeout: 50 * time.Millisecond, Elapsed: 62 * time.Millisecond})
	if se.TimeoutMs != 50 || se.ElapsedMs != 62 {
		t.Fatalf("timeout fields not serialized: %+v", se)
	}
	var te *TimeoutError
	if parsed := ParseError(se); !errors.As(parsed, &te) || te.Elapsed != 62*time.Millisecond || parsed.Error() != "Timeout 50ms exceeded." {
		t.Fatalf("expected TimeoutError with elapsed, got %#v", parsed)
	}

	se = SerializeError(ValidationError{Path: "entry.key", Reason: "expected string, got number"})
	var ve ValidationError
	if parsed := ParseError(se); !errors.As(parsed, &ve) || ve.Path != "entry.key" || ve.Reason != "expected string, got number" {
		t.Fatalf("expected ValidationError, got %#v", parsed)
	}
	if parsed := ParseError(SerializeError(ValidationError{Reason: "Unknown scheme for Params: Store.nope"})); parsed.Error() != "Unknown scheme for Params: Store.nope" {
		t.Fatalf("unexpected pathless validation error: %v", parsed)
	}

	var pe *ProtocolError
	if parsed := ParseError(SerializeError(&ProtocolError{Kind: ProtocolCrashed, Message: "gone"})); !errors.As(parsed, &pe) || pe.Error() != "gone" {
		t.Fatalf("expected ProtocolError, got %#v", parsed)
	}
}

func TestProtocolErrorMessage(t *testing.T) {
	testlog.Start(t)

	err := &ProtocolError{Kind: ProtocolCrashed, Method: "store.put", Message: "backend gone", Log: "last write lost"}
	want := "Protocol error (store.put): backend gone\nlast write lost"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestCompressCallLog(t *testing.T) {
	testlog.Start(t)

	log := []string{
		"waiting for key",
		"retrying",
		"  polled",
		"retrying",
		"  polled",
		"retrying",
		"  polled",
		"done",
	}
	got := CompressCallLog(log)
	want := []string{
		"  - waiting for key",
		"  3 × retrying",
		"      - polled",
		"  - done",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected compressed log:\n%q\nwant\n%q", got, want)
	}
}

func TestCompressCallLogSingleRun(t *testing.T) {
	testlog.Start(t)

	got := CompressCallLog([]string{"a", "a"})
	if !reflect.DeepEqual(got, []string{"  2 × a"}) {
		t.Fatalf("unexpected compressed log: %q", got)
	}
	if len(CompressCallLog(nil)) != 0 {
		t.Fatalf("expected empty output for empty log")
	}
}
