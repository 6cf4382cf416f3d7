package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage: object not found")

// ObjectStore is a path-keyed ciphertext store scoped to a private vault
// root. Logical names use forward slashes ("file/<id>", "meta/real").
// The store only ever sees opaque bytes.
type ObjectStore interface {
	// Put writes an object atomically: a failed Put leaves any prior
	// version intact and never exposes a partial object to readers.
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete is idempotent; removing a missing object is not an error.
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]string, error)
	// WipeTree removes every object under the vault root.
	WipeTree(ctx context.Context) error
}
