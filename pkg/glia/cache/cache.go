// Package cache provides the volatile storage Glia needs around the
// durable store: TTL key/value entries (identity cache, link tokens),
// counters (rate limiting) and pub/sub (stream frame fan-out). Redis
// backs it in production; an in-process implementation serves tests
// and single-node deployments without Redis.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist or expired.
var ErrMiss = errors.New("cache miss")

// Cache stores TTL-bounded string values.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Counter provides windowed counters. Incr creates the key at 1 when
// absent; Expire arms the window after the first increment.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Subscription is one active pub/sub subscription.
type Subscription interface {
	// Messages delivers payloads until Close or context cancellation.
	Messages() <-chan string
	Close() error
}

// PubSub fans string payloads out to subscribers of a channel.
type PubSub interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Backend bundles every volatile-storage concern behind one handle.
type Backend interface {
	Cache
	Counter
	PubSub
	Close() error
}
