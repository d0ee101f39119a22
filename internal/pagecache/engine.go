package pagecache

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cachefront/cachefront/internal/cache"
	"github.com/cachefront/cachefront/internal/metrics"
)

const (
	// DefaultExpires is the page lifetime applied when no explicit ttl is given.
	DefaultExpires = 300

	busyLockSuffix = ":busy"
)

// Options configures the page-cache engine.
type Options struct {
	// Backend stores entries, the key index, and busy-lock markers. A nil
	// backend disables caching: every request passes straight through.
	Backend cache.Backend
	// Expires is the default page lifetime in seconds (DefaultExpires when 0).
	Expires int
	// SetHTTPHeaders emits Cache-Control/Expires/Last-Modified on cache hits.
	SetHTTPHeaders bool
	// AutoCache lists full-match regex patterns whose responses are cached
	// without an explicit handler opt-in, tested in order.
	AutoCache []string
	// BusyLockSeconds serializes regeneration of an expired entry. Zero
	// disables the lock and expired entries are simply dropped.
	BusyLockSeconds int
	// NoCacheMethods lists request methods that never touch the cache.
	// Defaults to POST.
	NoCacheMethods []string
	// Debug enables per-request decision tracing.
	Debug bool
	// KeyMaker overrides the default path+sorted-params key derivation.
	KeyMaker KeyMaker
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine is the page-cache decision core. BeforeDispatch may short-circuit a
// request with a cached page; AfterFinalize decides whether the response just
// produced should be stored. The engine holds no locks across requests; all
// coordination is delegated to the backend's per-key atomicity.
type Engine struct {
	backend        cache.Backend
	index          *Index
	keys           KeyMaker
	expires        int
	setHTTPHeaders bool
	busyLock       int
	noCache        map[string]bool
	debug          bool
	logger         *slog.Logger
	metrics        *metrics.Recorder
	now            func() time.Time

	mu        sync.RWMutex
	autoCache []*regexp.Regexp

	noBackendWarn sync.Once
}

// New builds an engine from opts. An invalid auto-cache pattern is a
// configuration error and fails construction.
func New(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	expires := opts.Expires
	if expires <= 0 {
		expires = DefaultExpires
	}
	keys := opts.KeyMaker
	if keys == nil {
		keys = DefaultKeyMaker()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	methods := opts.NoCacheMethods
	if len(methods) == 0 {
		methods = []string{http.MethodPost}
	}
	noCache := make(map[string]bool, len(methods))
	for _, method := range methods {
		noCache[strings.ToUpper(strings.TrimSpace(method))] = true
	}

	e := &Engine{
		backend:        opts.Backend,
		keys:           keys,
		expires:        expires,
		setHTTPHeaders: opts.SetHTTPHeaders,
		busyLock:       opts.BusyLockSeconds,
		noCache:        noCache,
		debug:          opts.Debug,
		logger:         logger.With(slog.String("component", "pagecache")),
		metrics:        opts.Metrics,
		now:            now,
	}
	if opts.Backend != nil {
		e.index = NewIndex(opts.Backend)
	}
	if err := e.SetAutoCache(opts.AutoCache); err != nil {
		return nil, err
	}
	return e, nil
}

// SetAutoCache replaces the auto-cache pattern list. All patterns are
// compiled before the swap so a bad reload leaves the previous list serving.
func (e *Engine) SetAutoCache(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := compileAnchored(pattern)
		if err != nil {
			return fmt.Errorf("pagecache: auto-cache pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	e.mu.Lock()
	e.autoCache = compiled
	e.mu.Unlock()
	return nil
}

// Key exposes the cache key the engine derives for a request.
func (e *Engine) Key(r *http.Request) string {
	return e.keys.Key(r)
}

// BeforeDispatch consults the cache and reports whether it wrote a complete
// response, in which case dispatch must be skipped. Cache failures never fail
// the request; every ambiguous case degrades to a pass-through.
func (e *Engine) BeforeDispatch(w http.ResponseWriter, r *http.Request, st *State) bool {
	start := time.Now()
	if e.backend == nil {
		e.noBackendWarn.Do(func() {
			e.logger.Warn("no cache backend configured, page cache disabled")
		})
		e.observeLookup(metrics.LookupBypass, start)
		return false
	}
	if e.noCache[r.Method] {
		e.observeLookup(metrics.LookupBypass, start)
		return false
	}

	ctx := r.Context()
	key := e.keys.Key(r)
	entry, ok := e.fetchEntry(ctx, key)
	if !ok {
		e.observeLookup(metrics.LookupMiss, start)
		return false
	}

	now := e.now()
	if entry.Expired(now) {
		if e.busyLock > 0 {
			return e.dispatchExpiredLocked(w, r, key, now, st, start)
		}
		e.removeEntry(ctx, key)
		e.trace(r, "expired entry removed", slog.String("key", key))
		e.observeLookup(metrics.LookupExpired, start)
		return false
	}

	st.markUsed()

	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && t.Unix() == entry.CreateTime {
			w.WriteHeader(http.StatusNotModified)
			e.trace(r, "not modified", slog.String("key", key))
			e.observeLookup(metrics.LookupConditional, start)
			return true
		}
	}

	e.writePage(w, entry, now)
	e.trace(r, "served from cache", slog.String("key", key))
	e.observeLookup(metrics.LookupHit, start)
	return true
}

// dispatchExpiredLocked arbitrates regeneration of an expired entry. Exactly
// one caller per lock window wins and passes through to rebuild the page; the
// rest are served the stale body so nobody blocks on the winner.
func (e *Engine) dispatchExpiredLocked(w http.ResponseWriter, r *http.Request, key string, now time.Time, st *State, start time.Time) bool {
	ctx := r.Context()
	marker := strconv.AppendInt(nil, now.Unix(), 10)
	ttl := time.Duration(e.busyLock) * time.Second
	acquired, err := e.backend.AddIfAbsent(ctx, key+busyLockSuffix, marker, ttl)
	if err != nil {
		e.logger.Warn("busy lock acquisition failed", slog.String("key", key), slog.Any("error", err))
		acquired = true
	}
	if acquired {
		// The stale entry stays in place so concurrent losers can serve it;
		// the store at finalize overwrites it with the fresh page.
		e.trace(r, "busy lock acquired, regenerating", slog.String("key", key))
		e.observeLookup(metrics.LookupExpired, start)
		return false
	}

	// Lost the race. Re-fetch in case the winner already stored the fresh
	// page, and serve whatever is there rather than blocking on it.
	entry, ok := e.fetchEntry(ctx, key)
	if !ok {
		e.observeLookup(metrics.LookupMiss, start)
		return false
	}
	st.markUsed()
	e.writePage(w, entry, now)
	e.trace(r, "served stale during regeneration", slog.String("key", key))
	e.observeLookup(metrics.LookupStale, start)
	return true
}

// CapturedResponse is the finalized response snapshot handed to AfterFinalize.
type CapturedResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// AfterFinalize decides whether the response produced by dispatch should be
// stored for reuse, either because the handler opted in or because an
// auto-cache pattern matched the request path.
func (e *Engine) AfterFinalize(ctx context.Context, r *http.Request, resp CapturedResponse, st *State) {
	if e.backend == nil || e.noCache[r.Method] || st.Used() {
		return
	}
	start := time.Now()

	ttl, requested := st.Requested()
	switch {
	case requested:
		if ttl == 0 {
			ttl = e.expires
		}
	case e.matchAutoCache(r.URL.Path):
		ttl = e.expires
		e.trace(r, "auto-cache pattern matched", slog.String("path", r.URL.Path))
	}
	if ttl <= 0 {
		e.observeStore(metrics.StoreSkipped, start)
		return
	}

	now := e.now()
	entry := Entry{
		Body:            resp.Body,
		ContentType:     resp.Header.Get("Content-Type"),
		ContentEncoding: resp.Header.Get("Content-Encoding"),
		CreateTime:      now.Unix(),
		ExpireTime:      now.Unix() + int64(ttl),
	}
	payload, err := encodeEntry(entry)
	if err != nil {
		e.logger.Error("page encode failed", slog.Any("error", err))
		e.observeStore(metrics.StoreError, start)
		return
	}

	key := e.keys.Key(r)
	if err := e.backend.Set(ctx, key, payload, time.Duration(ttl)*time.Second); err != nil {
		e.logger.Error("page store failed", slog.String("key", key), slog.Any("error", err))
		e.observeStore(metrics.StoreError, start)
		return
	}
	if err := e.index.Add(ctx, key); err != nil {
		// The page is cached either way; the index only serves invalidation.
		e.logger.Warn("index update failed", slog.String("key", key), slog.Any("error", err))
	}
	e.trace(r, "page stored", slog.String("key", key), slog.Int("ttl_seconds", ttl))
	e.observeStore(metrics.StoreStored, start)
}

// ClearCachedPage removes every cached page whose key fully matches pattern
// and reports how many were removed. Keys matched in the index are dropped
// from it even when the backend no longer holds the page, so stale index
// entries are pruned as patterns sweep over them.
func (e *Engine) ClearCachedPage(ctx context.Context, pattern string) (int, error) {
	if e.backend == nil {
		return 0, nil
	}
	re, err := compileAnchored(pattern)
	if err != nil {
		return 0, fmt.Errorf("pagecache: clear pattern %q: %w", pattern, err)
	}

	keys := e.index.Load(ctx)
	removed := 0
	for key := range keys {
		if !re.MatchString(key) {
			continue
		}
		if err := e.backend.Remove(ctx, key); err != nil {
			e.logger.Warn("page removal failed", slog.String("key", key), slog.Any("error", err))
			continue
		}
		delete(keys, key)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	if err := e.index.Store(ctx, keys); err != nil {
		return removed, err
	}
	e.metrics.ObserveInvalidation(removed)
	if e.debug {
		e.logger.Debug("pages invalidated", slog.String("pattern", pattern), slog.Int("removed", removed))
	}
	return removed, nil
}

func (e *Engine) fetchEntry(ctx context.Context, key string) (Entry, bool) {
	payload, ok, err := e.backend.Get(ctx, key)
	if err != nil {
		e.logger.Warn("page lookup failed", slog.String("key", key), slog.Any("error", err))
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}
	entry, err := decodeEntry(payload)
	if err != nil {
		e.logger.Warn("malformed page entry dropped", slog.String("key", key), slog.Any("error", err))
		e.removeEntry(ctx, key)
		return Entry{}, false
	}
	return entry, true
}

func (e *Engine) removeEntry(ctx context.Context, key string) {
	if err := e.backend.Remove(ctx, key); err != nil {
		e.logger.Warn("page removal failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (e *Engine) writePage(w http.ResponseWriter, entry Entry, now time.Time) {
	header := w.Header()
	if entry.ContentType != "" {
		header.Set("Content-Type", entry.ContentType)
	}
	if entry.ContentEncoding != "" {
		header.Set("Content-Encoding", entry.ContentEncoding)
	}
	if e.setHTTPHeaders {
		maxAge := entry.ExpireTime - now.Unix()
		if maxAge < 0 {
			// Clock skew between the expiry check and header generation.
			maxAge = 0
		}
		header.Set("Cache-Control", "max-age="+strconv.FormatInt(maxAge, 10))
		header.Set("Expires", httpDate(entry.ExpireTime))
		header.Set("Last-Modified", httpDate(entry.CreateTime))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Body)
}

func (e *Engine) matchAutoCache(path string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, re := range e.autoCache {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func (e *Engine) observeLookup(result metrics.LookupResult, start time.Time) {
	e.metrics.ObserveLookup(result, time.Since(start))
}

func (e *Engine) observeStore(result metrics.StoreResult, start time.Time) {
	e.metrics.ObserveStore(result, time.Since(start))
}

func (e *Engine) trace(r *http.Request, msg string, args ...any) {
	if !e.debug {
		return
	}
	args = append(args, slog.String("method", r.Method), slog.String("path", r.URL.Path))
	e.logger.Debug(msg, args...)
}

func httpDate(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(http.TimeFormat)
}

// compileAnchored treats pattern as a regular expression that must match the
// whole key, never a substring, so invalidation cannot sweep wider than asked.
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")$")
}
