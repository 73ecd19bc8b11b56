// Package client executes HTTP RPC calls through a pluggable transport and
// optionally serves repeated calls from an in-memory response cache.
//
// A CachingClient wraps any Doer (an *http.Client satisfies it). On a hit the
// stored status line, headers and body are returned without touching the
// transport. On a miss the call is made, the body is read fully, and the
// result is stored under a key derived from the request.
package client
