package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubEngine struct {
	patterns []string
	removed  int
	err      error
}

func (s *stubEngine) ClearCachedPage(_ context.Context, pattern string) (int, error) {
	s.patterns = append(s.patterns, pattern)
	return s.removed, s.err
}

func newTestHandler(engine *stubEngine) (http.Handler, *int) {
	appCalls := 0
	app := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		appCalls++
		w.WriteHeader(http.StatusOK)
	})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return NewHandler(engine, metrics, app), &appCalls
}

func TestHandlerRoutesHealthz(t *testing.T) {
	handler, _ := newTestHandler(&stubEngine{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestHandlerDispatchesApp(t *testing.T) {
	handler, appCalls := newTestHandler(&stubEngine{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/view/42", nil))

	if rr.Code != http.StatusOK || *appCalls != 1 {
		t.Fatalf("expected the application handler to serve: status=%d calls=%d", rr.Code, *appCalls)
	}
}

func TestInvalidate(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		engine     *stubEngine
		wantStatus int
		wantBody   string
	}{
		{
			name:       "post removes matches",
			method:     "POST",
			target:     "/-/invalidate?pattern=/view/.*",
			engine:     &stubEngine{removed: 2},
			wantStatus: http.StatusOK,
			wantBody:   `{"removed":2}`,
		},
		{
			name:       "delete accepted",
			method:     "DELETE",
			target:     "/-/invalidate?pattern=/list",
			engine:     &stubEngine{removed: 1},
			wantStatus: http.StatusOK,
			wantBody:   `{"removed":1}`,
		},
		{
			name:       "get rejected",
			method:     "GET",
			target:     "/-/invalidate?pattern=/list",
			engine:     &stubEngine{},
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "missing pattern rejected",
			method:     "POST",
			target:     "/-/invalidate",
			engine:     &stubEngine{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "engine error surfaces",
			method:     "POST",
			target:     "/-/invalidate?pattern=(",
			engine:     &stubEngine{err: errors.New("bad pattern")},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler, _ := newTestHandler(tc.engine)

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.target, nil))

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if tc.wantBody != "" {
				var got, want map[string]int
				if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
					t.Fatalf("decode body %q: %v", rr.Body.String(), err)
				}
				if err := json.Unmarshal([]byte(tc.wantBody), &want); err != nil {
					t.Fatalf("decode want: %v", err)
				}
				if got["removed"] != want["removed"] {
					t.Fatalf("removed = %d, want %d", got["removed"], want["removed"])
				}
			}
		})
	}
}
