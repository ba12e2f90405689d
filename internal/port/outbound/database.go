package outbound

import (
	"context"
	"errors"
)

// ErrDocumentNotFound is returned when a document path does not exist.
var ErrDocumentNotFound = errors.New("document not found")

// Document is a single document read from a DocumentStorePort.
type Document struct {
	// ID is the last path segment.
	ID string
	// Path is the full document path, e.g. "users/u1/todos/t1".
	Path string
	// Data holds JSON-compatible values.
	Data map[string]any
}

// Increment is an Update field value that adds Delta to a numeric field.
type Increment struct {
	Delta int64
}

// Inc returns an Increment field value.
func Inc(delta int64) Increment {
	return Increment{Delta: delta}
}

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects the direct children of a collection.
type Query struct {
	// Collection is a collection path, e.g. "users/u1/todos".
	Collection string
	Where      []Filter
	OrderBy    string
	Desc       bool
}

// SnapshotFunc receives the full result set of a query.
type SnapshotFunc func(docs []Document)

// ErrorFunc receives listener errors. The listener stays attached.
type ErrorFunc func(err error)

// Subscription is a handle to an attached listener.
type Subscription interface {
	// Unsubscribe stops future deliveries. It is safe to call more than once.
	Unsubscribe()
}

// WriteBatch groups writes that commit all-or-nothing.
type WriteBatch interface {
	Set(path string, data map[string]any) WriteBatch
	Update(path string, fields map[string]any) WriteBatch
	Delete(path string) WriteBatch
	Commit(ctx context.Context) error
}

// DocumentStorePort is a hierarchical document store with real-time listeners.
// Paths alternate collection and document segments.
type DocumentStorePort interface {
	// NewID returns a fresh document id.
	NewID() string

	// Get reads one document.
	Get(ctx context.Context, path string) (Document, error)

	// Set creates or replaces a document.
	Set(ctx context.Context, path string, data map[string]any) error

	// Update merges top-level fields into an existing document.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes a document. Deleting an absent document is not an error.
	Delete(ctx context.Context, path string) error

	// Batch starts an atomic write batch.
	Batch() WriteBatch

	// Query runs q once.
	Query(ctx context.Context, q Query) ([]Document, error)

	// Listen delivers the result of q once after attaching and again after
	// every committed change to q.Collection.
	Listen(ctx context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error)
}
