package cache

import (
	"net/url"
	"strings"
)

// QueryKey identifies a cached query as an ordered list of segments,
// for example {"tasks", "list", "status=pending"} or {"user", "preferences"}.
type QueryKey []string

// Key builds a QueryKey from segments.
func Key(segments ...string) QueryKey {
	return QueryKey(segments)
}

// String encodes the key. Segments are path-escaped so distinct keys never
// share an encoding.
func (k QueryKey) String() string {
	escaped := make([]string, len(k))
	for i, s := range k {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

// ParseKey decodes a key produced by String.
func ParseKey(s string) (QueryKey, error) {
	if s == "" {
		return QueryKey{}, nil
	}
	parts := strings.Split(s, "/")
	key := make(QueryKey, len(parts))
	for i, p := range parts {
		seg, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		key[i] = seg
	}
	return key, nil
}

// HasPrefix reports whether prefix matches the leading segments of k.
// The empty prefix matches every key.
func (k QueryKey) HasPrefix(prefix QueryKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, s := range prefix {
		if k[i] != s {
			return false
		}
	}
	return true
}

// Equal reports whether both keys have the same segments.
func (k QueryKey) Equal(other QueryKey) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

// Append returns a new key with extra segments.
func (k QueryKey) Append(segments ...string) QueryKey {
	out := make(QueryKey, 0, len(k)+len(segments))
	out = append(out, k...)
	return append(out, segments...)
}
