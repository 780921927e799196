package server

import (
	"context"

	"github.com/danmuck/edgerpc/internal/observability"
	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/transport"
	"golang.org/x/time/rate"
)

// throttled paces inbound envelopes with a token bucket. Envelopes over
// the limit are delayed, never dropped.
type throttled struct {
	transport.Transport
	kind    string
	limiter *rate.Limiter
}

func newThrottled(t transport.Transport, kind string, perSecond float64, burst int) transport.Transport {
	if perSecond <= 0 {
		return t
	}
	return &throttled{Transport: t, kind: kind, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *throttled) Recv(ctx context.Context) (protocol.Message, error) {
	msg, err := t.Transport.Recv(ctx)
	if err != nil {
		return msg, err
	}
	if t.limiter.Allow() {
		return msg, nil
	}
	observability.RecordThrottled(t.kind)
	if err := t.limiter.Wait(ctx); err != nil {
		return protocol.Message{}, err
	}
	return msg, nil
}
