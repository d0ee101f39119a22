package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// PageCacheHTTP is the minimal surface the router needs from the page-cache
// engine to expose its operational endpoints.
type PageCacheHTTP interface {
	ClearCachedPage(ctx context.Context, pattern string) (int, error)
}

// NewHandler assembles the gateway's routing facade: operational endpoints
// are claimed under reserved paths, everything else is dispatched to the
// cached application handler.
func NewHandler(engine PageCacheHTTP, metricsHandler http.Handler, app http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/-/invalidate", func(w http.ResponseWriter, r *http.Request) {
		handleInvalidate(engine, w, r)
	})
	mux.Handle("/", app)
	return mux
}

// handleInvalidate removes cached pages matching the supplied pattern. The
// pattern is anchored to the full cache key, so "/view/.*" clears the view
// pages and nothing else.
func handleInvalidate(engine PageCacheHTTP, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pattern := strings.TrimSpace(r.URL.Query().Get("pattern"))
	if pattern == "" {
		http.Error(w, "pattern query parameter required", http.StatusBadRequest)
		return
	}
	removed, err := engine.ClearCachedPage(r.Context(), pattern)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"removed": removed})
}
