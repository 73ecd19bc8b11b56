package client

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rpccache/pkg/cache"
)

// exchange performs one native call and buffers the result as an entry
// keyed by key. The entry is not stored.
func exchange(ctx context.Context, doer Doer, key string, req *Request, opts Options, ttl time.Duration) (*cache.Entry, error) {
	cfg := requestConfigFor(doer, opts)
	ctx, cancel := cfg.deadline(ctx)
	defer cancel()

	httpReq, err := toHTTPRequest(WithRequestConfig(ctx, cfg), req)
	if err != nil {
		return nil, err
	}

	resp, err := doer.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return cache.NewEntry(key, resp.StatusCode, reasonPhrase(resp), resp.Header.Clone(), contentLength(resp), body, ttl), nil
}

func responseFromEntry(entry *cache.Entry, req *Request) *Response {
	header := entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status:  entry.Status,
		Reason:  entry.Reason,
		Header:  header,
		Body:    NewBody(entry.Body, entry.Length),
		Request: req,
	}
}

func reasonPhrase(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if reason, ok := strings.CutPrefix(resp.Status, code); ok {
		return strings.TrimSpace(reason)
	}
	if resp.Status != "" {
		return resp.Status
	}
	return http.StatusText(resp.StatusCode)
}

func contentLength(resp *http.Response) *int64 {
	if resp.ContentLength < 0 {
		return nil
	}
	n := resp.ContentLength
	return &n
}
