package pagecache

import (
	"bytes"
	"net/http"
)

// Middleware wraps next with the page cache: a valid cached page
// short-circuits dispatch entirely, otherwise the downstream response is
// streamed to the client while being captured for the store decision.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := &State{}
		r = r.WithContext(NewContext(r.Context(), st))

		if e.BeforeDispatch(w, r, st) {
			return
		}

		rec := &teeWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		e.AfterFinalize(r.Context(), r, rec.captured(), st)
	})
}

// teeWriter forwards the response to the client while keeping a copy of the
// body and status for AfterFinalize. Header is shared with the underlying
// writer, so the captured snapshot sees exactly what the client got.
type teeWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (t *teeWriter) WriteHeader(status int) {
	if t.wroteHeader {
		return
	}
	t.wroteHeader = true
	t.status = status
	t.ResponseWriter.WriteHeader(status)
}

func (t *teeWriter) Write(p []byte) (int, error) {
	if !t.wroteHeader {
		t.WriteHeader(http.StatusOK)
	}
	t.body.Write(p)
	return t.ResponseWriter.Write(p)
}

func (t *teeWriter) captured() CapturedResponse {
	return CapturedResponse{
		Status: t.status,
		Header: t.ResponseWriter.Header(),
		Body:   t.body.Bytes(),
	}
}
