package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 60 * time.Second
	defaultKeepAlive      = 30 * time.Second
	maxRedirects          = 10
)

type TransportOption func(*http.Transport)

func WithMaxIdleConns(maxIdleConns int) TransportOption {
	return func(t *http.Transport) {
		t.MaxIdleConns = maxIdleConns
	}
}

func WithMaxIdleConnsPerHost(maxIdleConnsPerHost int) TransportOption {
	return func(t *http.Transport) {
		t.MaxIdleConnsPerHost = maxIdleConnsPerHost
	}
}

func WithIdleConnTimeout(timeout time.Duration) TransportOption {
	return func(t *http.Transport) {
		t.IdleConnTimeout = timeout
	}
}

// NewTransport returns a pooled transport whose dialer honors the connect
// timeout carried by WithRequestConfig.
func NewTransport(opts ...TransportOption) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   defaultConnectTimeout,
		KeepAlive: defaultKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialContext(dialer),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(transport)
	}
	return transport
}

func dialContext(base *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cfg, ok := RequestConfigFrom(ctx); ok && cfg.ConnectTimeout > 0 {
			d := *base
			d.Timeout = cfg.ConnectTimeout
			return d.DialContext(ctx, network, addr)
		}
		return base.DialContext(ctx, network, addr)
	}
}

// HTTPClient is an *http.Client carrying the base timeouts per-call options
// are merged onto.
type HTTPClient struct {
	*http.Client
	config RequestConfig
}

type ClientOption func(*HTTPClient)

func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *HTTPClient) {
		c.Transport = transport
	}
}

func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.config.ConnectTimeout = timeout
	}
}

func WithReadTimeout(timeout time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.config.ReadTimeout = timeout
	}
}

// WithFollowRedirects controls redirect handling. When enabled, the default,
// GET and HEAD follow up to ten redirects; other methods always get the 3xx
// response itself.
func WithFollowRedirects(enabled bool) ClientOption {
	return func(c *HTTPClient) {
		if enabled {
			c.CheckRedirect = followSafeRedirects
		} else {
			c.CheckRedirect = neverRedirect
		}
	}
}

func followSafeRedirects(req *http.Request, via []*http.Request) error {
	if method := via[0].Method; method != http.MethodGet && method != http.MethodHead {
		return http.ErrUseLastResponse
	}
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

func neverRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func NewHTTPClient(opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		Client: &http.Client{
			Transport:     NewTransport(),
			CheckRedirect: followSafeRedirects,
		},
		config: RequestConfig{
			ConnectTimeout: defaultConnectTimeout,
			ReadTimeout:    defaultReadTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Config() RequestConfig {
	return c.config
}
