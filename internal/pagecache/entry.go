package pagecache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one cached page as persisted in the backend. Times are epoch
// seconds; ExpireTime is always strictly greater than CreateTime because a
// non-positive ttl never reaches the store path.
type Entry struct {
	Body            []byte `json:"body"`
	ContentType     string `json:"contentType,omitempty"`
	ContentEncoding string `json:"contentEncoding,omitempty"`
	CreateTime      int64  `json:"createTime"`
	ExpireTime      int64  `json:"expireTime"`
}

// Expired reports whether the entry's lifetime has elapsed at now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpireTime <= now.Unix()
}

func encodeEntry(e Entry) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("pagecache: encode entry: %w", err)
	}
	return payload, nil
}

func decodeEntry(payload []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return Entry{}, fmt.Errorf("pagecache: decode entry: %w", err)
	}
	return e, nil
}
