package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/edgerpc/internal/protocol/session"
	"github.com/danmuck/edgerpc/internal/testutil/testlog"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplatesLoadAndValidate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	serverPath := filepath.Join(dir, "server.toml")
	if err := WriteTemplate(serverPath, "server", false); err != nil {
		t.Fatalf("write server template: %v", err)
	}
	srv, err := LoadServerConfig(serverPath)
	if err != nil {
		t.Fatalf("load server template: %v", err)
	}
	if srv.Name != "edgerpcd" || srv.Buckets["Entry"] != 1000 {
		t.Fatalf("unexpected server config: %+v", srv)
	}
	if srv.Session.HeartbeatInterval.Duration != 15*time.Second {
		t.Fatalf("heartbeat=%v", srv.Session.HeartbeatInterval)
	}

	clientPath := filepath.Join(dir, "client.toml")
	if err := WriteTemplate(clientPath, "client", false); err != nil {
		t.Fatalf("write client template: %v", err)
	}
	cli, err := LoadClientConfig(clientPath)
	if err != nil {
		t.Fatalf("load client template: %v", err)
	}
	if cli.Timeout.Duration != 10*time.Second || cli.Session.Session().Backoff.MaxAttempts != 5 {
		t.Fatalf("unexpected client config: %+v", cli)
	}

	if err := WriteTemplate(serverPath, "server", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoadServerConfigKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadServerConfig(writeFile(t, `name = "custom"`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "custom" || cfg.HTTPAddr != ":9400" || cfg.DefaultBucketCapacity != 10000 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	sess := cfg.Session.Session()
	if sess.HandshakeTimeout != session.DefaultConfig().HandshakeTimeout {
		t.Fatalf("session defaults not applied: %+v", sess)
	}
}

func TestValidateServerConfigRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad progress":  `progress = "sloppy"`,
		"bad bucket":    "[buckets]\nEntry = 0",
		"no listeners":  "http_addr = \"\"\nstream_addr = \"\"",
		"missing burst": "inbound_rate = 5.0\ninbound_burst = 0",
		"prod no tls":   "[session]\nsecurity_mode = \"production\"",
	}
	for name, body := range cases {
		if _, err := LoadServerConfig(writeFile(t, body)); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestLoadServerConfigBadDuration(t *testing.T) {
	testlog.Start(t)
	if _, err := LoadServerConfig(writeFile(t, "[session]\nheartbeat_interval = \"soon\"")); err == nil {
		t.Fatalf("expected parse error")
	}
}
