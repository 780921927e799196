package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/edgerpc/internal/testutil/testlog"
)

func TestSharedTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  SharedToken
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "missing token denied", stored: "abc", input: "", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.stored.Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNewPicksValidator(t *testing.T) {
	testlog.Start(t)
	if err := New("  ").Validate("anything"); err != nil {
		t.Fatalf("blank token should build an open validator, got %v", err)
	}
	v := New(" s3cret ")
	if err := v.Validate("s3cret"); err != nil {
		t.Fatalf("expected trimmed token to match, got %v", err)
	}
	if err := v.Validate("other"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	v := FuncValidator(func(token string) error {
		if token == "ok" {
			return nil
		}
		return ErrUnauthorized
	})
	if err := v.Validate("ok"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if err := v.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestFromBearer(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"":             "",
	}
	for header, want := range cases {
		if got := FromBearer(header); got != want {
			t.Fatalf("FromBearer(%q)=%q want %q", header, got, want)
		}
	}
}
