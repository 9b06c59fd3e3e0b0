// Package kv defines the key-value repository port used to persist whole
// agent-state documents. Implementations provide no ordering guarantees
// beyond their own backend; the state repository layered on top adds a
// whole-object replace as its write fence.
package kv

import "context"

// Repository is the async get/set/delete port every backend implements.
type Repository interface {
	// Get returns the value stored at key, or (nil, false, nil) if absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value at key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// BatchGet returns the values for keys in the same order. Absent keys
	// yield a nil entry.
	BatchGet(ctx context.Context, keys []string) ([][]byte, error)
	// BatchSet stores every key/value pair in values.
	BatchSet(ctx context.Context, values map[string][]byte) error
	// BatchDelete removes every key in keys.
	BatchDelete(ctx context.Context, keys []string) error
}
