// Package retry implements the peer-transport retry policy of spec §4.12:
// exponential backoff with jitter for individual requests, and a per-peer
// circuit breaker to stop hammering an unresponsive peer.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig mirrors the configuration surface enumerated in spec §6:
// 1s initial interval doubling to a 60s cap, +/-10% jitter, capped at 5
// attempts.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	MaxAttempts     uint64
}

// DefaultBackoffConfig returns the spec's default retry policy (spec §4.12:
// "1s start, doubling, 60s cap, +/-10% jitter, 5 attempts max").
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Second,
		MaxInterval:     60 * time.Second,
		Multiplier:      2,
		Jitter:          0.1,
		MaxAttempts:     5,
	}
}

func (c BackoffConfig) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.InitialInterval
	eb.MaxInterval = c.MaxInterval
	eb.Multiplier = c.Multiplier
	eb.RandomizationFactor = c.Jitter
	eb.MaxElapsedTime = 0 // bounded by MaxAttempts instead of wall-clock budget
	return backoff.WithMaxRetries(eb, c.MaxAttempts-1)
}

// Do runs op with exponential backoff per cfg, stopping early if ctx is
// canceled (spec §7 ConsensusTimeout/InsufficientQuorum: "retried with
// backoff"). The last error is returned if every attempt fails.
func Do(ctx context.Context, cfg BackoffConfig, op func() error) error {
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}, backoff.WithContext(cfg.newBackOff(), ctx))
}
