package client

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"rpccache/pkg/cache"
)

// CachingClient serves repeated requests from a response cache and sends the
// rest to the wrapped transport.
//
// Concurrent misses on one key each reach the transport and the last store
// wins, unless single flight is enabled.
type CachingClient struct {
	doer      Doer
	cache     *cache.Cache
	keys      KeyPolicy
	cacheable Predicate
	group     *singleflight.Group
	logger    *zap.Logger
}

type Option func(*CachingClient)

func WithKeyPolicy(policy KeyPolicy) Option {
	return func(c *CachingClient) {
		c.keys = policy
	}
}

// WithPredicate limits caching to requests matching p. Other requests always
// reach the transport and are never stored.
func WithPredicate(p Predicate) Option {
	return func(c *CachingClient) {
		if p != nil {
			c.cacheable = p
		}
	}
}

// WithSingleFlight makes concurrent misses on the same key share one call.
func WithSingleFlight(enabled bool) Option {
	return func(c *CachingClient) {
		if enabled {
			c.group = &singleflight.Group{}
		} else {
			c.group = nil
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *CachingClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCachingClient wraps doer. The store is owned by the caller, who closes it
// at shutdown; a nil store gets a default one.
func NewCachingClient(doer Doer, store *cache.Cache, opts ...Option) *CachingClient {
	if store == nil {
		store = cache.NewCache(cache.DefaultMaxEntries, cache.DefaultTTL)
	}

	c := &CachingClient{
		doer:      doer,
		cache:     store,
		keys:      KeyByURL,
		cacheable: CacheAll,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *CachingClient) Cache() *cache.Cache {
	return c.cache
}

func (c *CachingClient) Execute(ctx context.Context, req *Request, opts Options) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	if !c.cacheable(req) {
		entry, err := exchange(ctx, c.doer, "", req, opts, 0)
		if err != nil {
			return nil, err
		}
		return responseFromEntry(entry, req), nil
	}

	key := c.keys.Key(req)
	log := c.logger.With(zap.String("key", key))

	if entry, found := c.cache.Get(key); found {
		log.Debug("Cache hit", zap.Int("status", entry.Status), zap.Duration("age", entry.Age()))
		return responseFromEntry(entry, req), nil
	}
	log.Debug("Cache miss")

	entry, err := c.load(ctx, key, req, opts)
	if err != nil {
		log.Debug("Request failed", zap.Error(err))
		return nil, err
	}

	return responseFromEntry(entry, req), nil
}

func (c *CachingClient) load(ctx context.Context, key string, req *Request, opts Options) (*cache.Entry, error) {
	if c.group == nil {
		return c.fetchAndStore(ctx, key, req, opts)
	}

	// The shared call outlives any one caller; exchange still bounds it by the
	// per-call deadline.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.fetchAndStore(detached, key, req, opts)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("Shared in-flight response", zap.String("key", key))
		}
		return res.Val.(*cache.Entry), nil
	}
}

func (c *CachingClient) fetchAndStore(ctx context.Context, key string, req *Request, opts Options) (*cache.Entry, error) {
	entry, err := exchange(ctx, c.doer, key, req, opts, c.cache.TTL())
	if err != nil {
		return nil, err
	}

	c.cache.Set(entry)
	c.logger.Debug("Response cached",
		zap.String("key", key),
		zap.Int("status", entry.Status),
		zap.Int("size", len(entry.Body)))

	return entry, nil
}

// DirectClient sends every request to the transport.
type DirectClient struct {
	doer Doer
}

func NewDirectClient(doer Doer) *DirectClient {
	return &DirectClient{doer: doer}
}

func (c *DirectClient) Execute(ctx context.Context, req *Request, opts Options) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	entry, err := exchange(ctx, c.doer, "", req, opts, 0)
	if err != nil {
		return nil, err
	}
	return responseFromEntry(entry, req), nil
}
