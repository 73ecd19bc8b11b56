package client

import (
	"context"
	"net/http"
	"time"
)

// Doer is the native transport a Client delegates to.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client executes a single request and returns a fully buffered response.
type Client interface {
	Execute(ctx context.Context, req *Request, opts Options) (*Response, error)
}

type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body is nil for requests without a payload.
	Body []byte
	// Charset names the encoding of Body. When set, Body is sent as text.
	Charset string
}

// Options carries per-call timeouts. Zero values keep the transport defaults.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

type Response struct {
	Status  int
	Reason  string
	Header  http.Header
	Body    Body
	Request *Request
}
