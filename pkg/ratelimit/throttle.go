package ratelimit

import (
	"net/http"

	"rpccache/pkg/client"
)

// ThrottledDoer rate limits calls to the wrapped transport per upstream host.
// Placed under a CachingClient it only slows down cache misses.
type ThrottledDoer struct {
	next    client.Doer
	limiter *Limiter
}

func Throttle(next client.Doer, limiter *Limiter) *ThrottledDoer {
	return &ThrottledDoer{next: next, limiter: limiter}
}

func (t *ThrottledDoer) Do(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context(), req.URL.Host); err != nil {
		return nil, err
	}
	return t.next.Do(req)
}

// Config exposes the wrapped transport's base timeouts.
func (t *ThrottledDoer) Config() client.RequestConfig {
	if configurable, ok := t.next.(client.Configurable); ok {
		return configurable.Config()
	}
	return client.RequestConfig{}
}
