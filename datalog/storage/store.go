package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = errors.New("key not found")

// Store is the durable key-value backend that index nodes, the contents
// record and the transaction log live in. Keys are plain strings that sort
// bytewise; values are opaque.
type Store interface {
	// Get returns the value at key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value at key, replacing any previous value
	Put(ctx context.Context, key string, value []byte) error

	// Scan iterates keys with the given prefix that are >= start, in order.
	// An empty start scans the whole prefix.
	Scan(ctx context.Context, prefix, start string) (Iterator, error)

	// Close releases the backend
	Close() error
}

// Iterator provides sequential access to key-value pairs
type Iterator interface {
	Next() bool
	Key() string
	Value() []byte
	Err() error
	Close() error
}
