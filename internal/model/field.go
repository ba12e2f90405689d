package model

import (
	"bytes"
	"encoding/json"
)

// Field is an optional patch value with three states: unset (leave the
// current value alone), cleared (explicit null) and set.
type Field[T any] struct {
	value   T
	set     bool
	cleared bool
}

// Set returns a field holding v.
func Set[T any](v T) Field[T] {
	return Field[T]{value: v, set: true}
}

// Clear returns a field that clears the target.
func Clear[T any]() Field[T] {
	return Field[T]{cleared: true}
}

// IsSet reports whether the field carries a value.
func (f Field[T]) IsSet() bool { return f.set }

// IsCleared reports whether the field is an explicit null.
func (f Field[T]) IsCleared() bool { return f.cleared }

// IsUnset reports whether the field was omitted.
func (f Field[T]) IsUnset() bool { return !f.set && !f.cleared }

// Value returns the carried value and whether it is set.
func (f Field[T]) Value() (T, bool) { return f.value, f.set }

// Apply resolves the field against the current pointer value.
func (f Field[T]) Apply(current *T) *T {
	switch {
	case f.set:
		v := f.value
		return &v
	case f.cleared:
		return nil
	default:
		return current
	}
}

// UnmarshalJSON decodes null as cleared. Absent keys never reach here and stay unset.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Clear[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Set(v)
	return nil
}

// MarshalJSON encodes cleared and unset fields as null.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.set {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}
