package harnessports

import "context"

// Cache memoizes fetched web content and search responses. Entry lifetime
// is owned by the implementation; callers only get/set opaque bytes.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
