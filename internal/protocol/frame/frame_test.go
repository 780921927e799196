package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/edgerpc/internal/testutil/testlog"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	payload := []byte(`{"id":42,"guid":"Store@1","method":"put"}`)
	in := New(42, 1, FlagIsReply|FlagIsError, payload)

	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.MessageKind != 1 || out.Header.MessageID != 42 {
		t.Fatalf("header mismatch: got=%+v", out.Header)
	}
	if out.Header.Flags != FlagIsReply|FlagIsError || out.Header.HeaderLen != FixedHeaderLen {
		t.Fatalf("header not preserved: %+v", out.Header)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch: %q", out.Payload)
	}
}

func TestReadFrameBackToBack(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	for i := uint64(1); i <= 3; i++ {
		if err := WriteFrame(&buf, New(i, 2, 0, nil), DefaultLimits()); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	for i := uint64(1); i <= 3; i++ {
		f, err := ReadFrame(&buf, DefaultLimits())
		if err != nil || f.Header.MessageID != i || len(f.Payload) != 0 {
			t.Fatalf("frame %d: %+v %v", i, f.Header, err)
		}
	}
	if _, err := ReadFrame(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected clean EOF between frames, got %v", err)
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	testlog.Start(t)
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameRejectsForeignMagicAndVersion(t *testing.T) {
	testlog.Start(t)
	h := Header{Magic: 0xEDCE1001, Version: Version, HeaderLen: FixedHeaderLen}
	if _, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits()); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
	h = Header{Magic: Magic, Version: 9, HeaderLen: FixedHeaderLen}
	if _, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits()); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestReadFrameHeaderLenTooSmall(t *testing.T) {
	testlog.Start(t)
	h := Header{Magic: Magic, Version: Version, HeaderLen: 8, MessageID: 1, MessageKind: 1}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrHeaderLenTooSmall) {
		t.Fatalf("expected ErrHeaderLenTooSmall, got %v", err)
	}
}

func TestReadFrameRejectsExtendedHeader(t *testing.T) {
	testlog.Start(t)
	h := Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen + 4, MessageID: 1, MessageKind: 1}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrHeaderLenMismatch) {
		t.Fatalf("expected ErrHeaderLenMismatch, got %v", err)
	}
}

func TestLimitsEnforcedBothWays(t *testing.T) {
	testlog.Start(t)
	limits := Limits{MaxPayloadBytes: 8}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, New(1, 1, 0, make([]byte, 9)), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on write, got %v", err)
	}
	big := New(1, 1, 0, make([]byte, 9))
	if err := WriteFrame(&buf, big, DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadFrame(&buf, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on read, got %v", err)
	}
}
