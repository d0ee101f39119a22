package pagecache

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDefaultKeyMaker(t *testing.T) {
	maker := DefaultKeyMaker()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "plain path", url: "http://example.com/list", want: "/list"},
		{name: "root", url: "http://example.com/", want: "/"},
		{name: "single param", url: "http://example.com/view?id=42", want: "/view?id=42"},
		{name: "params sorted by name", url: "http://example.com/view?zeta=1&alpha=2", want: "/view?alpha=2&zeta=1"},
		{name: "repeated param keeps value order", url: "http://example.com/view?tag=a&tag=b", want: "/view?tag=a&tag=b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if got := maker.Key(r); got != tt.want {
				t.Fatalf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultKeyMakerOrderIndependent(t *testing.T) {
	maker := DefaultKeyMaker()

	first := httptest.NewRequest("GET", "http://example.com/search?b=2&a=1&c=3", nil)
	second := httptest.NewRequest("GET", "http://example.com/search?c=3&a=1&b=2", nil)

	if maker.Key(first) != maker.Key(second) {
		t.Fatalf("expected identical keys regardless of submission order: %q vs %q",
			maker.Key(first), maker.Key(second))
	}
}

func TestKeyMakerFuncOverride(t *testing.T) {
	maker := KeyMakerFunc(func(r *http.Request) string {
		return r.Host + "/" + strings.TrimPrefix(r.URL.Path, "/")
	})

	r := httptest.NewRequest("GET", "http://tenant-a.example.com/list", nil)
	if got := maker.Key(r); got != "tenant-a.example.com/list" {
		t.Fatalf("key = %q, want host-differentiated key", got)
	}
}
