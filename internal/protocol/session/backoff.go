package session

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrRetriesExhausted = errors.New("session: retries exhausted")

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Retry calls fn until it succeeds, ctx ends, or MaxAttempts (when > 0)
// is reached, sleeping NextBackoffDelay between attempts.
func Retry(ctx context.Context, cfg BackoffConfig, rng *rand.Rand, fn func(attempt int) error) error {
	var last error
	for attempt := 1; cfg.MaxAttempts <= 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if last = fn(attempt); last == nil {
			return nil
		}
		delay := NextBackoffDelay(cfg, attempt, rng)
		log.Debug().Err(last).Int("attempt", attempt).Dur("delay", delay).Msg("session.Retry backing off")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), last)
		case <-timer.C:
		}
	}
	return errors.Join(ErrRetriesExhausted, last)
}
