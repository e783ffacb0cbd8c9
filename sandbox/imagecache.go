package sandbox

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// imageCache remembers which base images have already been pulled so
// Execute doesn't re-pull (and re-pay the latency of) an image it has
// already staged on this host. It is consulted best-effort: a cache miss
// just means Execute pulls again, it never blocks correctness.
type imageCache interface {
	Pulled(ctx context.Context, image string) bool
	MarkPulled(ctx context.Context, image string)
}

// memoryImageCache is a process-local imageCache, the default when no
// shared cache is configured.
type memoryImageCache struct {
	mu     sync.RWMutex
	pulled map[string]struct{}
}

func newMemoryImageCache() *memoryImageCache {
	return &memoryImageCache{pulled: make(map[string]struct{})}
}

func (c *memoryImageCache) Pulled(_ context.Context, image string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.pulled[image]
	return ok
}

func (c *memoryImageCache) MarkPulled(_ context.Context, image string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pulled[image] = struct{}{}
}

// redisImageCache shares pulled-image state across a fleet of runners
// behind the same registry mirror, so a newly-joined node doesn't have to
// re-pull images its siblings already warmed.
type redisImageCache struct {
	client *redis.Client
	prefix string
}

// newRedisImageCache wraps an existing redis client. Keys live under
// prefix+image with no expiry: a pulled image stays pulled until the node
// is recycled, and a stale entry just costs a redundant pull attempt.
func newRedisImageCache(client *redis.Client, prefix string) *redisImageCache {
	return &redisImageCache{client: client, prefix: prefix}
}

const redisImageCacheKeyPrefix = "skillhub:image-pulled:"

// WithRedisImageCache points the runner's image-pulled cache at a Redis
// instance shared by a fleet of runner hosts, so a newly-joined node
// doesn't re-pull images its siblings already warmed.
func WithRedisImageCache(addr string) DockerRunnerOption {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return WithImageCache(newRedisImageCache(client, redisImageCacheKeyPrefix))
}

func (c *redisImageCache) Pulled(ctx context.Context, image string) bool {
	n, err := c.client.Exists(ctx, c.prefix+image).Result()
	return err == nil && n > 0
}

func (c *redisImageCache) MarkPulled(ctx context.Context, image string) {
	c.client.Set(ctx, c.prefix+image, "1", 0)
}
