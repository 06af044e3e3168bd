package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// Tags is a set of key/value labels attached to a sample.
//
// Tags values are treated as immutable once handed to a metric: the helpers
// below always return copies.
type Tags map[string]string

// Clone returns a copy of the tag set.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// With returns a copy of the tag set with key set to value.
func (t Tags) With(key, value string) Tags {
	out := make(Tags, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[key] = value
	return out
}

// Merge returns a copy of t overlaid with other. Keys in other win.
func (t Tags) Merge(other Tags) Tags {
	out := make(Tags, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Contains reports whether every pair of filter is present in t.
func (t Tags) Contains(filter Tags) bool {
	for k, v := range filter {
		if got, ok := t[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// String returns the canonical "k:v,k2:v2" form with keys sorted.
func (t Tags) String() string {
	if len(t) == 0 {
		return ""
	}

	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(t[k])
	}
	return sb.String()
}

// ParseTags parses a "k:v,k2:v2" tag filter.
//
// Whitespace around keys and values is trimmed. Values may contain ':'; only
// the first colon separates key and value.
func ParseTags(s string) (Tags, error) {
	tags := Tags{}
	s = strings.TrimSpace(s)
	if s == "" {
		return tags, nil
	}

	for _, part := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid tag %q: expected key:value", strings.TrimSpace(part))
		}
		if _, dup := tags[key]; dup {
			return nil, fmt.Errorf("duplicate tag key %q", key)
		}
		tags[key] = value
	}
	return tags, nil
}

// ParseSelector splits a metric selector such as
// "http_req_duration{endpoint:profile}" into the metric name and tag filter.
func ParseSelector(selector string) (string, Tags, error) {
	selector = strings.TrimSpace(selector)

	open := strings.IndexByte(selector, '{')
	if open < 0 {
		if strings.ContainsAny(selector, "}") {
			return "", nil, fmt.Errorf("invalid metric selector %q: unbalanced braces", selector)
		}
		return selector, Tags{}, nil
	}

	if !strings.HasSuffix(selector, "}") {
		return "", nil, fmt.Errorf("invalid metric selector %q: missing closing brace", selector)
	}

	name := strings.TrimSpace(selector[:open])
	tags, err := ParseTags(selector[open+1 : len(selector)-1])
	if err != nil {
		return "", nil, fmt.Errorf("invalid metric selector %q: %w", selector, err)
	}
	if len(tags) == 0 {
		return "", nil, fmt.Errorf("invalid metric selector %q: empty tag filter", selector)
	}
	return name, tags, nil
}
