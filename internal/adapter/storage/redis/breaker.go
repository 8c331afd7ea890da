package redis

import (
	"context"
	"errors"
	"time"

	"partnership-ledger/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit breaker around a cache.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	Timeout             time.Duration // how long the breaker stays open
	MaxRequests         uint32        // probes allowed while half-open
}

// DefaultBreakerSettings trips after five consecutive failures and probes
// again after thirty seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, Timeout: 30 * time.Second, MaxRequests: 1}
}

// BreakerCache guards an IdempotencyCache with a circuit breaker. The cache
// is an optimization, so every failure, including an open breaker, degrades
// to a miss on Get and a no-op on Set.
type BreakerCache struct {
	next    ports.IdempotencyCache
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewBreakerCache wraps next.
func NewBreakerCache(next ports.IdempotencyCache, settings BreakerSettings, log zerolog.Logger) *BreakerCache {
	c := &BreakerCache{next: next, log: log}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "idempotency-cache",
		MaxRequests: settings.MaxRequests,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return c
}

// Get returns the cached value, or nil when the cache is unavailable.
func (c *BreakerCache) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.next.Get(ctx, key)
	})
	if err != nil {
		c.logFailure(err, "idempotency cache get skipped")
		return nil, nil
	}
	val, _ := res.([]byte)
	return val, nil
}

// Set stores the value unless the cache is unavailable.
func (c *BreakerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.next.Set(ctx, key, value, ttl)
	})
	if err != nil {
		c.logFailure(err, "idempotency cache set skipped")
	}
	return nil
}

// State reports the breaker state.
func (c *BreakerCache) State() gobreaker.State {
	return c.breaker.State()
}

func (c *BreakerCache) logFailure(err error, msg string) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.log.Debug().Err(err).Msg(msg)
		return
	}
	c.log.Warn().Err(err).Msg(msg)
}
