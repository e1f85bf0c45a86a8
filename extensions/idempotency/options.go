package idempotency

import (
	"time"

	"go.uber.org/zap"
)

// config holds the configuration for RedisStore.
type config struct {
	ttl          time.Duration
	inFlightTTL  time.Duration
	pollInterval time.Duration
	writeTimeout time.Duration
	keyPrefix    string
	logger       *zap.Logger
}

// Option configures a RedisStore.
type Option func(*config)

// WithTTL sets how long accepted results are kept.
//
// Default: 10 minutes
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithInFlightTTL bounds how long an in-flight marker survives if its owner
// never completes.
//
// Default: 2 minutes
func WithInFlightTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.inFlightTTL = ttl
	}
}

// WithPollInterval sets how often waiters check for a result.
//
// Default: 100 milliseconds
func WithPollInterval(interval time.Duration) Option {
	return func(c *config) {
		c.pollInterval = interval
	}
}

// WithWriteTimeout bounds the Complete and Fail writes, which run even
// after the caller's context is cancelled.
//
// Default: 5 seconds
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.writeTimeout = timeout
	}
}

// WithKeyPrefix namespaces all keys written by the store.
//
// Default: "lifeline:submission:"
func WithKeyPrefix(prefix string) Option {
	return func(c *config) {
		c.keyPrefix = prefix
	}
}

// WithLogger sets the logger used for best-effort writes
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
