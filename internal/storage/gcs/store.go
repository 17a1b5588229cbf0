// Package gcs provides a storage.Provider backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/openjudiciary/ecourts-archiver/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
}

// Store reads and writes objects in a configured GCS bucket.
type Store struct {
	client *gstorage.Client
	bucket string
}

// New creates a GCS-backed store and verifies bucket access up front.
// Authentication uses Application Default Credentials.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get GCS bucket %q attributes: %w", cfg.Bucket, err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// NewWithClient wraps an existing client (primarily for testing against the
// storage emulator).
func NewWithClient(client *gstorage.Client, bucket string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Put uploads the reader's content to the object path.
func (s *Store) Put(ctx context.Context, path string, contentType string, data io.Reader) error {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return classify(fmt.Errorf("copy object %s: %w (close writer: %v)", path, err, closeErr))
		}
		return classify(fmt.Errorf("copy object %s: %w", path, err))
	}
	if err := w.Close(); err != nil {
		return classify(fmt.Errorf("close writer for %s: %w", path, err))
	}
	return nil
}

// Get downloads the full object content.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, classify(fmt.Errorf("open object %s: %w", path, err))
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classify(fmt.Errorf("read object %s: %w", path, err))
	}
	return data, nil
}

// Exists probes object metadata without downloading content.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return false, nil
		}
		return false, classify(fmt.Errorf("stat object %s: %w", path, err))
	}
	return true, nil
}

// List returns the object names under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gstorage.Query{Prefix: prefix})
	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, classify(fmt.Errorf("list objects under %s: %w", prefix, err))
		}
		out = append(out, attrs.Name)
	}
}

// classify wraps authorization and bad-request responses as fatal so the
// synchronizer stops retrying them.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
			return &storage.FatalError{Err: err}
		}
	}
	return err
}
