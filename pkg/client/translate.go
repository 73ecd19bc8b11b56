package client

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const (
	acceptHeader        = "Accept"
	contentLengthHeader = "Content-Length"
	contentTypeHeader   = "Content-Type"
	hostHeader          = "Host"
	defaultAccept       = "*/*"
)

func toHTTPRequest(ctx context.Context, r *Request) (*http.Request, error) {
	target, err := targetURL(r.URL)
	if err != nil {
		return nil, &TranslationError{URL: r.URL, Err: err}
	}

	payload, err := requestPayload(r)
	if err != nil {
		return nil, &TranslationError{URL: r.URL, Err: err}
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, &TranslationError{URL: r.URL, Err: err}
	}

	hasAccept := false
	for name, values := range r.Header {
		switch {
		case strings.EqualFold(name, contentLengthHeader):
			// computed by the transport from the body
			continue
		case strings.EqualFold(name, hostHeader):
			if len(values) > 0 {
				req.Host = values[0]
			}
			continue
		case strings.EqualFold(name, acceptHeader):
			hasAccept = true
		}
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	if !hasAccept {
		req.Header.Set(acceptHeader, defaultAccept)
	}

	return req, nil
}

// targetURL rebuilds the URL from scheme, authority and raw path, dropping the
// fragment and re-adding each query parameter.
func targetURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("missing scheme or host")
	}

	query, err := reencodeQuery(u.RawQuery)
	if err != nil {
		return nil, err
	}

	return &url.URL{
		Scheme:   u.Scheme,
		User:     u.User,
		Host:     u.Host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: query,
	}, nil
}

// reencodeQuery re-adds each parameter of raw in its original order. Both '&'
// and ';' separate parameters; a name without '=' is kept bare.
func reencodeQuery(raw string) (string, error) {
	var b strings.Builder
	for _, param := range strings.FieldsFunc(raw, func(r rune) bool { return r == '&' || r == ';' }) {
		rawName, rawValue, hasValue := strings.Cut(param, "=")
		name, err := url.QueryUnescape(rawName)
		if err != nil {
			return "", err
		}
		if name == "" {
			continue
		}

		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		if !hasValue {
			continue
		}

		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return "", err
		}
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}
	return b.String(), nil
}

// requestPayload returns the bytes to send. Text bodies are decoded from the
// request charset and re-encoded in the charset named by Content-Type, if any.
func requestPayload(r *Request) ([]byte, error) {
	if r.Body == nil || r.Charset == "" {
		return r.Body, nil
	}

	source, err := lookupCharset(r.Charset)
	if err != nil {
		return nil, err
	}
	text, err := source.NewDecoder().Bytes(r.Body)
	if err != nil {
		return nil, err
	}

	targetCharset := r.Charset
	if value := headerValue(r.Header, contentTypeHeader); value != "" {
		if _, params, err := mime.ParseMediaType(value); err == nil && params["charset"] != "" {
			targetCharset = params["charset"]
		}
	}
	target, err := lookupCharset(targetCharset)
	if err != nil {
		return nil, err
	}
	return target.NewEncoder().Bytes(text)
}

// headerValue matches names case-insensitively since callers may build the
// header map by hand.
func headerValue(header http.Header, name string) string {
	for key, values := range header {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}
