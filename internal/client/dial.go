package client

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/danmuck/edgerpc/internal/protocol/session"
	"github.com/danmuck/edgerpc/internal/transport"
	"github.com/rs/zerolog/log"
)

// Dial connects to target with session backoff between attempts. Targets
// starting with ws:// or wss:// use the websocket transport; anything else
// is a host:port stream endpoint. The returned client is not yet running.
func Dial(ctx context.Context, target string, clientID string, cfg session.Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var t transport.Transport
	err := session.Retry(ctx, cfg.Backoff, rng, func(attempt int) error {
		var err error
		t, err = dialOnce(ctx, target, clientID, cfg)
		if err != nil {
			log.Warn().Err(err).Str("target", target).Int("attempt", attempt).Msg("client.Dial attempt failed")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return New(t), nil
}

func dialOnce(ctx context.Context, target string, clientID string, cfg session.Config) (transport.Transport, error) {
	if strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://") {
		return transport.DialWebSocket(ctx, target, cfg)
	}
	s, ack, err := transport.DialStream(ctx, target, clientID, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("target", target).Str("conn_id", ack.ConnID).Str("server", ack.ServerName).Msg("client.Dial connected")
	return s, nil
}
