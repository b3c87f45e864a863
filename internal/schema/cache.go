package schema

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/chat-analytics/pkg/metrics"
)

// DefaultTTL is how long a built description is served before rebuilding.
const DefaultTTL = time.Hour

// BuildFunc produces a fresh schema description.
type BuildFunc func(ctx context.Context) (string, error)

type entry struct {
	text    string
	builtAt time.Time
}

// Cache serves a schema description and rebuilds it after the TTL expires.
// Readers always observe a whole description; concurrent misses share one build.
type Cache struct {
	build BuildFunc
	ttl   time.Duration
	now   func() time.Time

	current atomic.Pointer[entry]
	group   singleflight.Group

	// gen is bumped by Invalidate; a build only stores its text if gen is unchanged.
	mu  sync.Mutex
	gen uint64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the cache lifetime. Non-positive values keep the default.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache returns a cache around build.
func NewCache(build BuildFunc, opts ...CacheOption) *Cache {
	c := &Cache{build: build, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuilderFunc adapts a Builder to a BuildFunc.
func BuilderFunc(b *Builder) BuildFunc {
	return func(context.Context) (string, error) {
		return b.Build()
	}
}

// Get returns the cached description, building it on a miss.
// A failed build is returned to the caller and nothing is cached.
func (c *Cache) Get(ctx context.Context) (string, error) {
	if e := c.current.Load(); e != nil && c.now().Sub(e.builtAt) < c.ttl {
		metrics.RecordSchemaCache(true)
		return e.text, nil
	}
	metrics.RecordSchemaCache(false)

	v, err, _ := c.group.Do("schema", func() (any, error) {
		if e := c.current.Load(); e != nil && c.now().Sub(e.builtAt) < c.ttl {
			return e.text, nil
		}
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		text, err := c.build(ctx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		if c.gen == gen {
			c.current.Store(&entry{text: text, builtAt: c.now()})
		}
		c.mu.Unlock()
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached description so the next Get rebuilds it. A build
// already in flight still answers its callers but is not cached.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.current.Store(nil)
}
