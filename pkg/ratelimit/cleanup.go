package ratelimit

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DropIdle removes the buckets of hosts not called within idleTimeout and
// returns those hosts in sorted order.
func (r *Limiter) DropIdle(idleTimeout time.Duration) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cutoff := time.Now().Add(-idleTimeout)
	var dropped []string
	for host, limiter := range r.limiters {
		if limiter.lastSeen.Before(cutoff) {
			delete(r.limiters, host)
			dropped = append(dropped, host)
		}
	}

	sort.Strings(dropped)
	return dropped
}

func (r *Limiter) Size() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.limiters)
}

// Sweeper drops idle host buckets on a fixed interval until stopped.
type Sweeper struct {
	limiter     *Limiter
	interval    time.Duration
	idleTimeout time.Duration
	logger      *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSweeper(limiter *Limiter, interval, idleTimeout time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		limiter:     limiter,
		interval:    interval,
		idleTimeout: idleTimeout,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Sweeper) sweep() []string {
	hosts := s.limiter.DropIdle(s.idleTimeout)
	if len(hosts) > 0 {
		s.logger.Debug("Dropped idle host limiters",
			zap.Strings("hosts", hosts),
			zap.Int("remaining", s.limiter.Size()))
	}
	return hosts
}

// Stop halts the sweep loop and waits for it to exit. Safe to call twice.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}
