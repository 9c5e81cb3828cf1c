package harnessports

import "context"

// RateLimiter coordinates throughput toward external services, keyed by
// engine or host.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
