package batch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
	"github.com/cuemby/cdc-streams/pkg/log"
	"github.com/cuemby/cdc-streams/pkg/metrics"
)

// RetryConfig configures the jittered exponential backoff retry loop:
// sleep base*2^attempt capped at ceiling, ±10% jitter, up to MaxRetries
// additional attempts after the first.
type RetryConfig struct {
	MaxRetries int
	Base       time.Duration
	Ceiling    time.Duration
}

// DefaultRetryConfig returns the standard defaults (base 1s, ceiling
// 10s) unless a sink overrides them.
func DefaultRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{MaxRetries: maxRetries, Base: time.Second, Ceiling: 10 * time.Second}
}

func (c RetryConfig) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.Base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.1
	eb.MaxInterval = c.Ceiling
	eb.MaxElapsedTime = 0 // bounded by attempt count below, not wall time
	return backoff.WithMaxRetries(eb, uint64(c.MaxRetries))
}

// Retry runs op, retrying on transient errors up to cfg.MaxRetries
// additional times. Non-transient errors abort immediately without
// consuming the retry budget. mapper labels the batch_retries counter.
func Retry(ctx context.Context, cfg RetryConfig, mapper string, op func() error) error {
	logger := log.WithMapper(mapper)
	attempt := 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !cdcerrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		attempt++
		metrics.BatchRetries.WithLabelValues(mapper).Inc()
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("retrying batch delivery")
	}

	return backoff.RetryNotify(wrapped, backoff.WithContext(cfg.newBackOff(), ctx), notify)
}
