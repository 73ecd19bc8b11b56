package client

import (
	"context"
	"time"
)

// RequestConfig holds the timeouts applied to one native call.
type RequestConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Configurable is implemented by transports that carry a base RequestConfig.
type Configurable interface {
	Config() RequestConfig
}

// merge overrides the base timeouts with any positive per-call values.
func (c RequestConfig) merge(opts Options) RequestConfig {
	if opts.ConnectTimeout > 0 {
		c.ConnectTimeout = opts.ConnectTimeout
	}
	if opts.ReadTimeout > 0 {
		c.ReadTimeout = opts.ReadTimeout
	}
	return c
}

// deadline bounds the whole exchange, from dial to the last body byte.
func (c RequestConfig) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.ReadTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.ConnectTimeout+c.ReadTimeout)
}

func requestConfigFor(doer Doer, opts Options) RequestConfig {
	var base RequestConfig
	if configurable, ok := doer.(Configurable); ok {
		base = configurable.Config()
	}
	return base.merge(opts)
}

type requestConfigKey struct{}

func WithRequestConfig(ctx context.Context, cfg RequestConfig) context.Context {
	return context.WithValue(ctx, requestConfigKey{}, cfg)
}

func RequestConfigFrom(ctx context.Context) (RequestConfig, bool) {
	cfg, ok := ctx.Value(requestConfigKey{}).(RequestConfig)
	return cfg, ok
}
