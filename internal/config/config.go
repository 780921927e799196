package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/edgerpc/internal/progress"
	"github.com/danmuck/edgerpc/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Duration reads "250ms" style strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ServerConfig struct {
	Name                  string         `toml:"name"`
	HTTPAddr              string         `toml:"http_addr"`
	StreamAddr            string         `toml:"stream_addr"`
	CorsOrigins           []string       `toml:"cors_origins"`
	Progress              string         `toml:"progress"`
	Debug                 bool           `toml:"debug"`
	Tracing               bool           `toml:"tracing"`
	DefaultBucketCapacity int            `toml:"default_bucket_capacity"`
	Buckets               map[string]int `toml:"buckets"`
	MaxConnections        int            `toml:"max_connections"`
	InboundRate           float64        `toml:"inbound_rate"`
	InboundBurst          int            `toml:"inbound_burst"`
	Session               SessionConfig  `toml:"session"`
}

type ClientConfig struct {
	Target   string        `toml:"target"`
	ClientID string        `toml:"client_id"`
	Timeout  Duration      `toml:"timeout"`
	Session  SessionConfig `toml:"session"`
}

// SessionConfig is the file form of session.Config.
type SessionConfig struct {
	ConnectTimeout    Duration          `toml:"connect_timeout"`
	HandshakeTimeout  Duration          `toml:"handshake_timeout"`
	WriteTimeout      Duration          `toml:"write_timeout"`
	HeartbeatInterval Duration          `toml:"heartbeat_interval"`
	MaxAttempts       int               `toml:"max_attempts"`
	SecurityMode      string            `toml:"security_mode"`
	TLS               session.TLSConfig `toml:"tls"`
	AuthToken         string            `toml:"auth_token"`
}

// Session converts to the runtime form; zero durations take defaults.
func (s SessionConfig) Session() session.Config {
	cfg := session.Config{
		ConnectTimeout:    s.ConnectTimeout.Duration,
		HandshakeTimeout:  s.HandshakeTimeout.Duration,
		WriteTimeout:      s.WriteTimeout.Duration,
		HeartbeatInterval: s.HeartbeatInterval.Duration,
		SecurityMode:      session.SecurityMode(s.SecurityMode),
		TLS:               s.TLS,
		AuthToken:         strings.TrimSpace(s.AuthToken),
	}
	cfg = cfg.WithDefaults()
	cfg.Backoff.MaxAttempts = s.MaxAttempts
	return cfg
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:                  "edgerpcd",
		HTTPAddr:              ":9400",
		StreamAddr:            ":9401",
		Progress:              progress.ModeStrict.String(),
		DefaultBucketCapacity: 10000,
		MaxConnections:        256,
		InboundRate:           200,
		InboundBurst:          64,
		Session: SessionConfig{
			SecurityMode: string(session.SecurityModeDevelopment),
		},
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Target:   "127.0.0.1:9401",
		ClientID: "edgerpcctl",
		Timeout:  Duration{10 * time.Second},
		Session: SessionConfig{
			SecurityMode: string(session.SecurityModeDevelopment),
			MaxAttempts:  5,
		},
	}
}

// LoadServerConfig reads path over DefaultServerConfig and validates it.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadClientConfig reads path over DefaultClientConfig and validates it.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: server config missing name", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" && strings.TrimSpace(cfg.StreamAddr) == "" {
		return fmt.Errorf("%w: server config needs http_addr or stream_addr", ErrInvalidConfig)
	}
	if _, err := progress.ParseMode(cfg.Progress); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.DefaultBucketCapacity < 1 {
		return fmt.Errorf("%w: default_bucket_capacity must be positive", ErrInvalidConfig)
	}
	for bucket, n := range cfg.Buckets {
		if n < 1 {
			return fmt.Errorf("%w: bucket %q capacity must be positive", ErrInvalidConfig, bucket)
		}
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("%w: max_connections must not be negative", ErrInvalidConfig)
	}
	if cfg.InboundRate < 0 || cfg.InboundBurst < 0 {
		return fmt.Errorf("%w: inbound_rate and inbound_burst must not be negative", ErrInvalidConfig)
	}
	if cfg.InboundRate > 0 && cfg.InboundBurst == 0 {
		return fmt.Errorf("%w: inbound_burst required when inbound_rate is set", ErrInvalidConfig)
	}
	if err := cfg.Session.Session().ValidateServerTransport(); err != nil {
		return fmt.Errorf("%w: session: %v", ErrInvalidConfig, err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Target) == "" {
		return fmt.Errorf("%w: client config missing target", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return fmt.Errorf("%w: client config missing client_id", ErrInvalidConfig)
	}
	if err := cfg.Session.Session().ValidateClientTransport(); err != nil {
		return fmt.Errorf("%w: session: %v", ErrInvalidConfig, err)
	}
	return nil
}
