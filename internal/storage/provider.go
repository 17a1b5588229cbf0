// Package storage defines the interface for a blob storage provider.
// This abstraction keeps the archive synchronizer independent of a specific
// object store (Google Cloud Storage, AWS S3, or the local filesystem).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned by Get and reported by Exists when an object does
// not exist. It is never a reason to retry.
var ErrNotFound = errors.New("storage: object not found")

// FatalError marks a remote failure that retrying cannot fix: bad
// credentials, missing permissions, malformed requests. Backends wrap such
// errors so callers can stop retrying immediately.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("storage: fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// Provider is the common interface over a blob object store.
type Provider interface {
	// Put uploads the reader's content to the object path, replacing any
	// existing object.
	Put(ctx context.Context, path string, contentType string, data io.Reader) error
	// Get downloads an object's full content. Returns ErrNotFound when the
	// object does not exist.
	Get(ctx context.Context, path string) ([]byte, error)
	// Exists probes for an object without downloading it.
	Exists(ctx context.Context, path string) (bool, error)
	// List returns the object paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
