package pagecache

import (
	"net/http"
	"sort"
	"strings"
)

// KeyMaker derives the page-cache key for a request. The default builder is
// path+query based; deployments that need cross-host or cross-scheme keys can
// inject their own at configuration time.
type KeyMaker interface {
	Key(r *http.Request) string
}

// KeyMakerFunc adapts a plain function to the KeyMaker interface.
type KeyMakerFunc func(*http.Request) string

func (f KeyMakerFunc) Key(r *http.Request) string { return f(r) }

// DefaultKeyMaker builds "/path?a=1&b=2" with parameters ordered by name so
// the key is identical regardless of submission order. Values are used as
// they arrive; collisions from unencoded separator characters are a known
// limitation and are not corrected here.
func DefaultKeyMaker() KeyMaker {
	return KeyMakerFunc(buildKey)
}

func buildKey(r *http.Request) string {
	key := "/" + strings.TrimPrefix(r.URL.Path, "/")

	params := r.URL.Query()
	if len(params) == 0 {
		return key
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		for _, value := range params[name] {
			pairs = append(pairs, name+"="+value)
		}
	}
	return key + "?" + strings.Join(pairs, "&")
}
