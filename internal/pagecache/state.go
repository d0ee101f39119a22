package pagecache

import (
	"context"
	"net/http"
)

// State carries the page-cache flags for a single request. The middleware
// attaches a fresh value to every request context, so flags cannot leak
// across requests.
type State struct {
	requested  bool
	ttlSeconds int
	used       bool
}

// RequestTTL opts the response into caching for ttl seconds. Zero falls back
// to the configured default lifetime; a negative value explicitly disables
// caching for this response even when an auto-cache pattern matches.
func (s *State) RequestTTL(seconds int) {
	if s == nil {
		return
	}
	s.requested = true
	s.ttlSeconds = seconds
}

// Requested reports whether the handler opted in, and with which ttl.
func (s *State) Requested() (int, bool) {
	if s == nil {
		return 0, false
	}
	return s.ttlSeconds, s.requested
}

// Used reports whether the response was served from cache, which disables the
// store path for the rest of the request.
func (s *State) Used() bool {
	return s != nil && s.used
}

func (s *State) markUsed() {
	if s != nil {
		s.used = true
	}
}

type stateContextKey struct{}

// NewContext attaches the per-request state to ctx.
func NewContext(ctx context.Context, s *State) context.Context {
	return context.WithValue(ctx, stateContextKey{}, s)
}

// StateFromContext returns the per-request state, or nil when the request did
// not pass through the page-cache middleware.
func StateFromContext(ctx context.Context) *State {
	s, _ := ctx.Value(stateContextKey{}).(*State)
	return s
}

// CachePage is the handler-facing opt-in: it marks the current response for
// caching with the given ttl in seconds. Zero means "use the configured
// default". Outside the middleware it is a no-op.
func CachePage(r *http.Request, seconds int) {
	StateFromContext(r.Context()).RequestTTL(seconds)
}
