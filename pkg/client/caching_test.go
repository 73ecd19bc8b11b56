package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rpccache/pkg/cache"
)

type fakeDoer struct {
	calls  atomic.Int32
	status int
	reason string
	header http.Header
	body   []byte
	length int64
	err    error
	delay  time.Duration
	gate   chan struct{}

	mu       sync.Mutex
	requests []*http.Request
	payloads [][]byte
}

func newFakeDoer(body string) *fakeDoer {
	return &fakeDoer{
		status: http.StatusOK,
		reason: "OK",
		header: http.Header{"Content-Type": []string{"text/plain"}},
		body:   []byte(body),
		length: int64(len(body)),
	}
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls.Add(1)

	var payload []byte
	if req.Body != nil {
		payload, _ = io.ReadAll(req.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}

	return &http.Response{
		StatusCode:    f.status,
		Status:        http.StatusText(f.status),
		Header:        f.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(f.body)),
		ContentLength: f.length,
		Request:       req,
	}, nil
}

func (f *fakeDoer) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeDoer) lastPayload() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

func readAll(t *testing.T, b Body) string {
	t.Helper()
	r := b.Reader()
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func newTestClient(doer Doer, opts ...Option) (*CachingClient, *cache.Cache) {
	store := cache.NewCache(100, time.Minute)
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	return NewCachingClient(doer, store, opts...), store
}

func TestCachingClient_MissThenHit(t *testing.T) {
	doer := newFakeDoer("hello")
	c, store := newTestClient(doer)
	ctx := context.Background()
	req := &Request{Method: http.MethodGet, URL: "http://x/get"}

	first, err := c.Execute(ctx, req, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, doer.calls.Load())
	assert.Equal(t, http.StatusOK, first.Status)
	assert.Equal(t, "OK", first.Reason)
	assert.Equal(t, "hello", readAll(t, first.Body))
	assert.Equal(t, 1, store.Size())

	entry, found := store.Get("http://x/get")
	require.True(t, found)
	assert.Equal(t, []byte("hello"), entry.Body)

	second, err := c.Execute(ctx, req, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, doer.calls.Load(), "hit must not reach the transport")
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Reason, second.Reason)
	assert.Equal(t, first.Header, second.Header)
	assert.Equal(t, "hello", readAll(t, second.Body))
	assert.Same(t, req, second.Request)
}

func TestCachingClient_BodyIsRepeatable(t *testing.T) {
	doer := newFakeDoer("payload")
	c, _ := newTestClient(doer)
	req := &Request{URL: "http://x/get"}

	for i := 0; i < 2; i++ {
		resp, err := c.Execute(context.Background(), req, Options{})
		require.NoError(t, err)

		assert.True(t, resp.Body.Repeatable())
		assert.Equal(t, "payload", readAll(t, resp.Body))
		assert.Equal(t, "payload", readAll(t, resp.Body))

		n, ok := resp.Body.Len()
		assert.True(t, ok)
		assert.EqualValues(t, 7, n)

		copied := resp.Body.Bytes()
		copied[0] = 'X'
		assert.Equal(t, "payload", readAll(t, resp.Body))
	}
}

func TestCachingClient_UnknownLength(t *testing.T) {
	doer := newFakeDoer("chunked")
	doer.length = -1
	c, _ := newTestClient(doer)

	resp, err := c.Execute(context.Background(), &Request{URL: "http://x/stream"}, Options{})
	require.NoError(t, err)

	_, ok := resp.Body.Len()
	assert.False(t, ok)
	assert.Equal(t, "chunked", readAll(t, resp.Body))
}

func TestCachingClient_MultiValuedHeaders(t *testing.T) {
	doer := newFakeDoer("x")
	doer.header.Add("Set-Cookie", "a=1")
	doer.header.Add("Set-Cookie", "b=2")
	c, _ := newTestClient(doer)
	req := &Request{URL: "http://x/cookies"}

	miss, err := c.Execute(context.Background(), req, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a=1", "b=2"}, miss.Header.Values("Set-Cookie"))

	// callers may not corrupt the stored headers
	miss.Header.Del("Set-Cookie")

	hit, err := c.Execute(context.Background(), req, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, doer.calls.Load())
	assert.Equal(t, []string{"a=1", "b=2"}, hit.Header.Values("Set-Cookie"))
	assert.Equal(t, "text/plain", hit.Header.Get("Content-Type"))
}

func TestCachingClient_URLKeyCollidesAcrossMethods(t *testing.T) {
	doer := newFakeDoer("from get")
	c, _ := newTestClient(doer)
	ctx := context.Background()

	_, err := c.Execute(ctx, &Request{Method: http.MethodGet, URL: "http://x/resource"}, Options{})
	require.NoError(t, err)

	resp, err := c.Execute(ctx, &Request{
		Method: http.MethodPost,
		URL:    "http://x/resource",
		Body:   []byte(`{"a":1}`),
	}, Options{})
	require.NoError(t, err)

	// the URL alone is the key, so the POST is answered with the GET response
	assert.EqualValues(t, 1, doer.calls.Load())
	assert.Equal(t, "from get", readAll(t, resp.Body))
}

func TestCachingClient_MethodURLKeySeparatesMethods(t *testing.T) {
	doer := newFakeDoer("ok")
	c, store := newTestClient(doer, WithKeyPolicy(KeyByMethodURL))
	ctx := context.Background()

	_, err := c.Execute(ctx, &Request{Method: http.MethodGet, URL: "http://x/resource"}, Options{})
	require.NoError(t, err)
	_, err = c.Execute(ctx, &Request{Method: http.MethodPost, URL: "http://x/resource"}, Options{})
	require.NoError(t, err)

	assert.EqualValues(t, 2, doer.calls.Load())
	assert.Equal(t, 2, store.Size())

	_, found := store.Get("POST http://x/resource")
	assert.True(t, found)
}

func TestCachingClient_RepeatedMissReplacesEntry(t *testing.T) {
	doer := newFakeDoer("v1")
	store := cache.NewCache(10, 10*time.Millisecond)
	c := NewCachingClient(doer, store)
	req := &Request{URL: "http://x/get"}

	_, err := c.Execute(context.Background(), req, Options{})
	require.NoError(t, err)
	first, found := store.Get("http://x/get")
	require.True(t, found)

	time.Sleep(20 * time.Millisecond)
	doer.body = []byte("v2")
	doer.length = 2

	resp, err := c.Execute(context.Background(), req, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, doer.calls.Load())
	assert.Equal(t, "v2", readAll(t, resp.Body))
	assert.Equal(t, []byte("v1"), first.Body, "old entry must not be mutated")
}

func TestCachingClient_TransportErrorPropagates(t *testing.T) {
	sentinel := errors.New("connection refused")
	doer := newFakeDoer("")
	doer.err = sentinel
	c, store := newTestClient(doer)

	resp, err := c.Execute(context.Background(), &Request{URL: "http://x/get"}, Options{})
	assert.Nil(t, resp)
	assert.Same(t, sentinel, err)
	assert.Equal(t, 0, store.Size())

	_, err = c.Execute(context.Background(), &Request{URL: "http://x/get"}, Options{})
	assert.ErrorIs(t, err, sentinel)
	assert.EqualValues(t, 2, doer.calls.Load(), "failures are not cached")
}

func TestCachingClient_TranslationError(t *testing.T) {
	doer := newFakeDoer("")
	c, store := newTestClient(doer)

	_, err := c.Execute(context.Background(), &Request{URL: "://no-scheme"}, Options{})
	require.Error(t, err)

	var terr *TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "://no-scheme", terr.URL)
	assert.NotNil(t, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "://no-scheme")
	assert.EqualValues(t, 0, doer.calls.Load())
	assert.Equal(t, 0, store.Size())
}

func TestCachingClient_NilRequest(t *testing.T) {
	c, _ := newTestClient(newFakeDoer(""))

	_, err := c.Execute(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNilRequest)
}

func TestCachingClient_PathPredicate(t *testing.T) {
	doer := newFakeDoer("ok")
	c, store := newTestClient(doer, WithPredicate(PathPredicate("/get")))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Execute(ctx, &Request{URL: "http://x/post"}, Options{})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, doer.calls.Load())
	assert.Equal(t, 0, store.Size())

	for i := 0; i < 2; i++ {
		_, err := c.Execute(ctx, &Request{URL: "http://x/get?id=1"}, Options{})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, doer.calls.Load())
	assert.Equal(t, 1, store.Size())
}

func TestCachingClient_ConcurrentMissRace(t *testing.T) {
	doer := newFakeDoer("raced")
	doer.delay = 20 * time.Millisecond
	c, store := newTestClient(doer)
	req := &Request{URL: "http://x/get"}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Execute(context.Background(), req, Options{})
			if err == nil {
				if data, _ := io.ReadAll(resp.Body.Reader()); string(data) != "raced" {
					err = errors.New("unexpected body")
				}
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	calls := doer.calls.Load()
	assert.True(t, calls >= 1 && calls <= 2)
	assert.Equal(t, 1, store.Size())

	resp, err := c.Execute(context.Background(), req, Options{})
	require.NoError(t, err)
	assert.Equal(t, calls, doer.calls.Load())
	assert.Equal(t, "raced", readAll(t, resp.Body))
}

func TestCachingClient_SingleFlightCollapsesMisses(t *testing.T) {
	doer := newFakeDoer("once")
	doer.gate = make(chan struct{})
	c, store := newTestClient(doer, WithSingleFlight(true))
	req := &Request{URL: "http://x/get"}

	const callers = 8
	var wg sync.WaitGroup
	bodies := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Execute(context.Background(), req, Options{})
			if err != nil {
				bodies <- err.Error()
				return
			}
			data, _ := io.ReadAll(resp.Body.Reader())
			bodies <- string(data)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(doer.gate)
	wg.Wait()
	close(bodies)

	for body := range bodies {
		assert.Equal(t, "once", body)
	}
	assert.EqualValues(t, 1, doer.calls.Load())
	assert.Equal(t, 1, store.Size())
}

func TestCachingClient_SingleFlightSurvivesCallerCancel(t *testing.T) {
	doer := newFakeDoer("shared")
	doer.gate = make(chan struct{})
	c, store := newTestClient(doer, WithSingleFlight(true))
	req := &Request{URL: "http://x/get"}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Execute(ctx, req, Options{})
		firstErr <- err
	}()

	require.Eventually(t, func() bool { return doer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		body string
		err  error
	}
	second := make(chan result, 1)
	go func() {
		resp, err := c.Execute(context.Background(), req, Options{})
		if err != nil {
			second <- result{err: err}
			return
		}
		data, _ := io.ReadAll(resp.Body.Reader())
		second <- result{body: string(data)}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(doer.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "shared", res.body)
	assert.EqualValues(t, 1, doer.calls.Load())
	assert.Equal(t, 1, store.Size())
}

type configurableDoer struct {
	*fakeDoer
	base RequestConfig
}

func (d configurableDoer) Config() RequestConfig {
	return d.base
}

func TestCachingClient_PerCallTimeoutsMergeOntoBase(t *testing.T) {
	doer := configurableDoer{
		fakeDoer: newFakeDoer("ok"),
		base:     RequestConfig{ConnectTimeout: time.Second, ReadTimeout: 5 * time.Second},
	}
	c, _ := newTestClient(doer)

	_, err := c.Execute(context.Background(), &Request{URL: "http://x/a"}, Options{ReadTimeout: 2 * time.Second})
	require.NoError(t, err)

	sent := doer.lastRequest()
	cfg, ok := RequestConfigFrom(sent.Context())
	require.True(t, ok)
	assert.Equal(t, time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)

	deadline, ok := sent.Context().Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(3*time.Second), deadline, time.Second)
}

func TestCachingClient_HitIgnoresTimeouts(t *testing.T) {
	doer := newFakeDoer("ok")
	c, _ := newTestClient(doer)
	req := &Request{URL: "http://x/get"}

	_, err := c.Execute(context.Background(), req, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := c.Execute(ctx, req, Options{ConnectTimeout: time.Nanosecond, ReadTimeout: time.Nanosecond})
	require.NoError(t, err)
	assert.Equal(t, "ok", readAll(t, resp.Body))
}

func TestDirectClient_NeverCaches(t *testing.T) {
	doer := newFakeDoer("direct")
	c := NewDirectClient(doer)
	req := &Request{URL: "http://x/get"}

	for i := 0; i < 3; i++ {
		resp, err := c.Execute(context.Background(), req, Options{})
		require.NoError(t, err)
		assert.Equal(t, "direct", readAll(t, resp.Body))
	}
	assert.EqualValues(t, 3, doer.calls.Load())
}

func TestParseKeyPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    KeyPolicy
		wantErr bool
	}{
		{"", KeyByURL, false},
		{"url", KeyByURL, false},
		{"METHOD_URL", KeyByMethodURL, false},
		{"body", KeyByURL, true},
	}

	for _, tt := range tests {
		got, err := ParseKeyPolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.want, mustParse(t, got.String()))
	}
}

func mustParse(t *testing.T, s string) KeyPolicy {
	t.Helper()
	p, err := ParseKeyPolicy(s)
	require.NoError(t, err)
	return p
}
