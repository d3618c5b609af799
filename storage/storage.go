// Package storage defines the document-store primitives the tenancy core consumes.
//
// A Cluster hosts many isolated namespaces (one per tenant). A Database is a live link to one
// namespace; it holds Collections of JSON-like documents keyed by a string ID, and named
// counters advanced atomically by Increment.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrDuplicate   = errors.New("duplicate key")
	ErrUnreachable = errors.New("storage cluster unreachable")
	ErrClosed      = errors.New("storage closed")
)

// SequencesCollection holds the counter documents of a namespace.
const SequencesCollection = "_sequences"

type (
	// Cluster opens namespaces. Implementations must be safe for concurrent use.
	Cluster interface {
		// Open returns a live handle to namespace, creating the namespace if needed.
		// An unreachable cluster yields an error wrapping ErrUnreachable.
		Open(ctx context.Context, namespace string) (Database, error)
		Close(ctx context.Context) error
	}

	Database interface {
		Name() string
		Collection(name string) Collection
		// EnsureCollection creates the collection and its indexes if they do not exist yet.
		EnsureCollection(ctx context.Context, name string, indexes ...Index) error
		// Counter returns the current value of a counter, and whether it exists.
		Counter(ctx context.Context, key string) (int64, bool, error)
		// Increment atomically sets the counter to max(value, floor)+1 and returns the new value.
		// A missing counter starts at 0.
		Increment(ctx context.Context, key string, floor int64) (int64, error)
		Close(ctx context.Context) error
	}

	Collection interface {
		Name() string
		// Insert stores doc under id; ErrDuplicate if id or a unique index value is taken.
		Insert(ctx context.Context, id string, doc interface{}) error
		// Get decodes the document stored under id into out; ErrNotFound if absent.
		Get(ctx context.Context, id string, out interface{}) error
		// Find decodes all documents matching f into out, a pointer to a slice.
		Find(ctx context.Context, f Filter, out interface{}) error
		Count(ctx context.Context, f Filter) (int64, error)
		// Replace overwrites the document stored under id; ErrNotFound if absent.
		Replace(ctx context.Context, id string, doc interface{}) error
		Delete(ctx context.Context, ids ...string) (int64, error)
	}

	Index struct {
		Field  string
		Unique bool
	}

	// Filter selects documents. All conditions are ANDed; an empty Filter matches everything.
	Filter struct {
		// Eq matches fields equal to the given scalar value.
		Eq map[string]interface{}
		// Prefix matches string fields starting with the given prefix, case-insensitively.
		Prefix map[string]string
		Sort   []Ordering
		Limit  int
	}

	Ordering struct {
		Field     string
		Ascending bool
	}
)

func (ord Ordering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// IndexName is the deterministic name of the index on field of collection.
func IndexName(collection string, idx Index) string {
	suffix := "idx"
	if idx.Unique {
		suffix = "key"
	}
	return fmt.Sprintf("%s_%s_%s", collection, idx.Field, suffix)
}
