package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"comentario/common"
)

const (
	defaultTimeout    = 5 * time.Second
	maxRetries        = 3
	retryIntervalBase = 500 * time.Millisecond
	cacheTTL          = 300 * time.Second
)

// Store is the typed adapter every service goes through. On top of the raw
// backend it adds per-call timeouts, retry with exponential backoff for
// mutations, and a TTL read cache invalidated by path prefix. Retry exhaustion
// and deadline expiry surface as common.ErrUnavailable.
type Store struct {
	backend Backend
	cache   *readCache
	timeout time.Duration
}

func New(backend Backend) *Store {
	return &Store{
		backend: backend,
		cache:   newReadCache(cacheTTL),
		timeout: defaultTimeout,
	}
}

// Read fetches the node at path into out and reports whether it existed.
// Reads are idempotent and not retried.
func (s *Store) Read(ctx context.Context, path string, out any) (bool, error) {
	path = cleanPath(path)

	raw, hit := s.cache.get(path)
	if !hit {
		readCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		var err error
		raw, err = s.backend.Get(readCtx, path)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return false, fmt.Errorf("%w: read %s timed out", common.ErrUnavailable, path)
			}
			return false, fmt.Errorf("read %s: %w", path, err)
		}
		s.cache.put(path, raw)
	}

	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// Write replaces the node at path.
func (s *Store) Write(ctx context.Context, path string, value any) error {
	path = cleanPath(path)
	return s.mutate(ctx, path, func(ctx context.Context) error {
		return s.backend.Set(ctx, path, value)
	})
}

// Merge updates only the listed fields of the node at path.
func (s *Store) Merge(ctx context.Context, path string, fields map[string]any) error {
	path = cleanPath(path)
	return s.mutate(ctx, path, func(ctx context.Context) error {
		return s.backend.Update(ctx, path, fields)
	})
}

// Create pushes a new child under path and returns its generated id.
func (s *Store) Create(ctx context.Context, path string, value any) (string, error) {
	path = cleanPath(path)
	var id string
	err := s.mutate(ctx, path, func(ctx context.Context) error {
		var err error
		id, err = s.backend.Push(ctx, path, value)
		return err
	})
	return id, err
}

// Delete removes the node at path and everything below it.
func (s *Store) Delete(ctx context.Context, path string) error {
	path = cleanPath(path)
	return s.mutate(ctx, path, func(ctx context.Context) error {
		return s.backend.Delete(ctx, path)
	})
}

// Transact runs fn optimistically against path. fn returning ErrTxAbort ends
// the transaction cleanly with committed=false; any other error fails it.
// Write conflicts are retried by the backend and invisible here.
func (s *Store) Transact(ctx context.Context, path string, fn TxnFunc) (bool, error) {
	path = cleanPath(path)
	var committed bool
	err := s.mutate(ctx, path, func(ctx context.Context) error {
		var err error
		committed, err = s.backend.Transact(ctx, path, fn)
		return err
	})
	return committed, err
}

// mutate runs op with a per-attempt timeout and up to maxRetries retries with
// exponential backoff, then invalidates cached reads under the touched path.
func (s *Store) mutate(ctx context.Context, path string, op func(context.Context) error) error {
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryIntervalBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := op(opCtx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})

	// Even a failed attempt may have written something before erroring.
	s.cache.invalidate(path)

	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrUnavailable, path, err)
	}
	return nil
}

func cleanPath(path string) string {
	return strings.Trim(path, "/")
}
