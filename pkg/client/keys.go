package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// KeyPolicy decides which parts of a request identify a cached response.
type KeyPolicy int

const (
	// KeyByURL uses the request URL verbatim. Requests to the same URL with
	// different methods or bodies share one entry.
	KeyByURL KeyPolicy = iota
	// KeyByMethodURL prefixes the URL with the request method.
	KeyByMethodURL
)

func ParseKeyPolicy(s string) (KeyPolicy, error) {
	switch strings.ToLower(s) {
	case "", "url":
		return KeyByURL, nil
	case "method_url", "method+url":
		return KeyByMethodURL, nil
	default:
		return KeyByURL, fmt.Errorf("unknown key policy: %s", s)
	}
}

func (p KeyPolicy) String() string {
	switch p {
	case KeyByMethodURL:
		return "method_url"
	default:
		return "url"
	}
}

func (p KeyPolicy) Key(r *Request) string {
	if p == KeyByMethodURL {
		method := strings.ToUpper(r.Method)
		if method == "" {
			method = http.MethodGet
		}
		return method + " " + r.URL
	}
	return r.URL
}

// Predicate reports whether a request may be answered from, and stored in, the cache.
type Predicate func(r *Request) bool

func CacheAll(*Request) bool {
	return true
}

// PathPredicate caches only requests whose URL path is one of paths.
func PathPredicate(paths ...string) Predicate {
	allowed := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		allowed[p] = struct{}{}
	}
	return func(r *Request) bool {
		u, err := url.Parse(r.URL)
		if err != nil {
			return false
		}
		path := u.Path
		if path == "" {
			path = "/"
		}
		_, ok := allowed[path]
		return ok
	}
}
