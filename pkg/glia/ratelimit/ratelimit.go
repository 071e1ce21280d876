// Package ratelimit implements fixed-window request limits on top of a
// cache counter. The window is armed on the first increment; when the
// counter backend errors the limiter fails open so a cache outage
// never blocks chat.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glia-ai/glia/pkg/glia/cache"
	"github.com/glia-ai/glia/pkg/glia/platform"
)

// Default limits for bot chat.
const (
	DefaultUserLimit  = 20 // requests per window per platform user
	DefaultGuildLimit = 5  // mention requests per window per guild
	DefaultWindow     = time.Minute
)

// Limiter counts requests per key in fixed windows.
type Limiter struct {
	counter cache.Counter
	limit   int64
	window  time.Duration
	logger  *slog.Logger
}

// New creates a limiter allowing limit requests per window.
func New(counter cache.Counter, limit int, window time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		counter: counter,
		limit:   int64(limit),
		window:  window,
		logger:  logger.With("component", "ratelimit"),
	}
}

// Allow records one request under key and reports whether it is within
// the limit. Counter errors are logged and treated as allowed.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	n, err := l.counter.Incr(ctx, key)
	if err != nil {
		l.logger.Warn("rate counter unavailable, allowing request", "key", key, "error", err)
		return true
	}
	if n == 1 {
		// First hit in this window: arm the expiry.
		if err := l.counter.Expire(ctx, key, l.window); err != nil {
			l.logger.Warn("rate window expire failed", "key", key, "error", err)
		}
	}
	return n <= l.limit
}

// UserKey is the counter key for one platform user.
func UserKey(p platform.Platform, platformUserID string) string {
	return fmt.Sprintf("rate:user:%s:%s", p, platformUserID)
}

// GuildKey is the counter key for mention chat inside one guild.
func GuildKey(p platform.Platform, guildID string) string {
	return fmt.Sprintf("rate:guild:%s:%s", p, guildID)
}
