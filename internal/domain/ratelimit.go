package domain

import (
	"context"
	"time"
)

// RateLimiter answers whether a keyed request is permitted under a
// limit-per-window policy. Allowing a request counts it.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
