package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgerpc/internal/config"
	"github.com/danmuck/edgerpc/internal/protocol/session"
)

const (
	envHTTPAddr   = "EDGERPCD_HTTP_ADDR"
	envStreamAddr = "EDGERPCD_STREAM_ADDR"
)

type fileConfig struct {
	Name                  string            `toml:"name"`
	HTTPAddr              string            `toml:"http_addr"`
	StreamAddr            string            `toml:"stream_addr"`
	CorsOrigins           []string          `toml:"cors_origins"`
	Progress              string            `toml:"progress"`
	Debug                 bool              `toml:"debug"`
	Tracing               bool              `toml:"tracing"`
	DefaultBucketCapacity int               `toml:"default_bucket_capacity"`
	Buckets               map[string]int    `toml:"buckets"`
	MaxConnections        int               `toml:"max_connections"`
	InboundRate           float64           `toml:"inbound_rate"`
	InboundBurst          int               `toml:"inbound_burst"`
	Session               fileSessionConfig `toml:"session"`
}

type fileSessionConfig struct {
	HandshakeTimeout  string            `toml:"handshake_timeout"`
	WriteTimeout      string            `toml:"write_timeout"`
	HeartbeatInterval string            `toml:"heartbeat_interval"`
	SecurityMode      string            `toml:"security_mode"`
	AuthToken         string            `toml:"auth_token"`
	TLS               session.TLSConfig `toml:"tls"`
}

// loadServerConfig overlays the keys present in path onto the defaults,
// then applies the address env overrides. Validation is left to the caller.
func loadServerConfig(path string) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.ServerConfig{}, fmt.Errorf("load edgerpcd config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("stream_addr") {
		cfg.StreamAddr = strings.TrimSpace(raw.StreamAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("progress") {
		cfg.Progress = strings.ToLower(strings.TrimSpace(raw.Progress))
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	if meta.IsDefined("tracing") {
		cfg.Tracing = raw.Tracing
	}
	if meta.IsDefined("default_bucket_capacity") {
		cfg.DefaultBucketCapacity = raw.DefaultBucketCapacity
	}
	if meta.IsDefined("buckets") {
		cfg.Buckets = raw.Buckets
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("inbound_rate") {
		cfg.InboundRate = raw.InboundRate
	}
	if meta.IsDefined("inbound_burst") {
		cfg.InboundBurst = raw.InboundBurst
	}

	durations := []struct {
		key string
		raw string
		out *config.Duration
	}{
		{"handshake_timeout", raw.Session.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{"write_timeout", raw.Session.WriteTimeout, &cfg.Session.WriteTimeout},
		{"heartbeat_interval", raw.Session.HeartbeatInterval, &cfg.Session.HeartbeatInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return config.ServerConfig{}, fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		d.out.Duration = v
	}
	if meta.IsDefined("session", "security_mode") {
		cfg.Session.SecurityMode = strings.TrimSpace(raw.Session.SecurityMode)
	}
	if meta.IsDefined("session", "auth_token") {
		cfg.Session.AuthToken = strings.TrimSpace(raw.Session.AuthToken)
	}
	if meta.IsDefined("session", "tls") {
		cfg.Session.TLS = raw.Session.TLS
	}

	if v := strings.TrimSpace(os.Getenv(envHTTPAddr)); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv(envStreamAddr)); v != "" {
		cfg.StreamAddr = v
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
