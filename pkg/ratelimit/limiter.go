package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key, typically an upstream host.
type Limiter struct {
	limiters map[string]*keyLimiter
	mutex    sync.RWMutex
	limit    rate.Limit
	burst    int
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*keyLimiter),
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (r *Limiter) Allow(key string) bool {
	return r.get(key).Allow()
}

// Wait blocks until a token for key is available or ctx is done.
func (r *Limiter) Wait(ctx context.Context, key string) error {
	return r.get(key).Wait(ctx)
}

func (r *Limiter) get(key string) *rate.Limiter {
	r.mutex.RLock()
	limiter, exists := r.limiters[key]
	r.mutex.RUnlock()

	if !exists {
		return r.createNewLimiter(key)
	}

	r.mutex.Lock()
	limiter.lastSeen = time.Now()
	r.mutex.Unlock()

	return limiter.limiter
}

func (r *Limiter) createNewLimiter(key string) *rate.Limiter {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if limiter, exists := r.limiters[key]; exists {
		limiter.lastSeen = time.Now()
		return limiter.limiter
	}

	limiter := &keyLimiter{
		limiter:  rate.NewLimiter(r.limit, r.burst),
		lastSeen: time.Now(),
	}
	r.limiters[key] = limiter

	return limiter.limiter
}
