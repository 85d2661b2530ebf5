// Package store defines the key-value capability used to persist reservation
// counters. Values are opaque strings; callers parse and format numbers at the
// boundary. No backend retries a failed call on its own.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// ErrUnavailable wraps any connectivity, read or write failure of the
// underlying backend. Handlers translate it into a generic retrieval or
// reservation failure.
var ErrUnavailable = errors.New("store: unavailable")

// Store is a string-valued key-value store. A single Get or Set is atomic;
// nothing spanning two calls is.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// BoundedIncrementer is implemented by backends that can increment an
// integer key in one atomic step. The key is treated as 0 when absent. The
// increment only happens when the current value is strictly below limit; ok
// reports whether it happened and value is the value after the call.
type BoundedIncrementer interface {
	IncrementIfBelow(ctx context.Context, key string, limit int64) (value int64, ok bool, err error)
}
