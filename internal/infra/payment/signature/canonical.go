package signature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SortedParams joins params as "k1=v1&k2=v2" in ascending key order.
// Excluded keys and empty values are skipped; values are not URL-encoded.
func SortedParams(params map[string]string, exclude ...string) string {
	skip := make(map[string]struct{}, len(exclude))
	for _, k := range exclude {
		skip[k] = struct{}{}
	}
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if _, ok := skip[k]; ok || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// SortedJSON re-serialises a JSON object with object keys in ascending order at every
// level, numbers preserved verbatim, no HTML escaping and no trailing newline.
func SortedJSON(raw []byte, exclude ...string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode json object: %w", err)
	}
	for _, k := range exclude {
		delete(obj, k)
	}
	return MarshalSorted(obj)
}

// MarshalSorted encodes v the same way SortedJSON does.
func MarshalSorted(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
