package ratelimit

import "context"

// RateLimiter caps outbound provider traffic per channel. Allow is a single
// non-blocking probe; Wait blocks until the channel has budget or ctx ends.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}
