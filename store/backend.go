package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrTxAbort is returned by a TxnFunc that observed a state it must not
// overwrite. The transaction ends cleanly with committed=false.
var ErrTxAbort = errors.New("transaction aborted")

// TxnFunc receives the current value at a path (nil when absent) and returns
// the value to write. Returning a nil value deletes the node.
type TxnFunc func(current json.RawMessage) (any, error)

// Backend is the narrow operation set the adapter needs from a hierarchical
// JSON store. Paths are slash-separated keys into one logical JSON tree.
type Backend interface {
	// Get returns the JSON value at path, or nil when the node is absent.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set replaces the node at path with value.
	Set(ctx context.Context, path string, value any) error

	// Update merges only the listed fields into the node at path.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Push creates a new child under path with a generated id and returns it.
	Push(ctx context.Context, path string, value any) (string, error)

	// Delete removes the node at path and all its descendants.
	Delete(ctx context.Context, path string) error

	// Transact runs fn against the current value at path with optimistic
	// concurrency and writes the result. Returns whether fn committed.
	Transact(ctx context.Context, path string, fn TxnFunc) (bool, error)
}
