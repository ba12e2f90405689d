// Package document holds the path, encoding and query helpers shared by the
// document store adapters.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/todoflow/server/internal/port/outbound"
)

var (
	// ErrInvalidPath is returned for paths that do not name a document.
	ErrInvalidPath = errors.New("invalid document path")
	// ErrNotNumeric is returned when an Increment targets a non-numeric field.
	ErrNotNumeric = errors.New("increment target is not numeric")
)

// Join joins path segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split returns the parent collection path and the id of a document path.
func Split(path string) (collection, id string, err error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, s := range segments {
		if s == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1], nil
}

// Encode converts v into a JSON-compatible field map.
func Encode(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

// EncodeFields encodes v like Encode and drops its "id" field, which is
// carried by the document path instead.
func EncodeFields(v any) (map[string]any, error) {
	out, err := Encode(v)
	if err != nil {
		return nil, err
	}
	delete(out, "id")
	return out, nil
}

// Decode converts a document into T. The document id is exposed as "id".
func Decode[T any](doc outbound.Document) (T, error) {
	var out T
	fields := make(map[string]any, len(doc.Data)+1)
	for k, v := range doc.Data {
		fields[k] = v
	}
	fields["id"] = doc.ID

	data, err := json.Marshal(fields)
	if err != nil {
		return out, fmt.Errorf("decode document %s: %w", doc.Path, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode document %s: %w", doc.Path, err)
	}
	return out, nil
}

// Normalize round-trips data through JSON so every adapter stores the same
// value shapes (float64 numbers, []any, map[string]any).
func Normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	return out, nil
}

// Clone deep-copies a normalized field map.
func Clone(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Merge applies update fields to current and returns the result. Increment
// values add to the existing number, treating a missing field as zero.
func Merge(current, fields map[string]any) (map[string]any, error) {
	out := Clone(current)
	if out == nil {
		out = map[string]any{}
	}
	plain := map[string]any{}
	for k, v := range fields {
		inc, ok := v.(outbound.Increment)
		if !ok {
			plain[k] = v
			continue
		}
		base, present := out[k]
		if !present || base == nil {
			out[k] = float64(inc.Delta)
			continue
		}
		n, ok := toFloat(base)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotNumeric, k)
		}
		out[k] = n + float64(inc.Delta)
	}
	normalized, err := Normalize(plain)
	if err != nil {
		return nil, err
	}
	for k, v := range normalized {
		out[k] = v
	}
	return out, nil
}

// Select filters docs by q.Where and orders them by q.OrderBy.
func Select(docs []outbound.Document, q outbound.Query) []outbound.Document {
	out := make([]outbound.Document, 0, len(docs))
	for _, d := range docs {
		if Match(d.Data, q.Where) {
			out = append(out, d)
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, aok := out[i].Data[q.OrderBy]
			b, bok := out[j].Data[q.OrderBy]
			switch {
			case !aok || !bok:
				return aok && !bok
			case q.Desc:
				return compare(a, b) > 0
			default:
				return compare(a, b) < 0
			}
		})
	}
	return out
}

// Match reports whether data satisfies every equality filter.
func Match(data map[string]any, filters []outbound.Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || compare(v, f.Value) != 0 {
			return false
		}
	}
	return true
}

func compare(a, b any) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	return strings.Compare(sa, sb)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
