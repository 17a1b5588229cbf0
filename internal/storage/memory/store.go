// Package memory stores objects in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/openjudiciary/ecourts-archiver/internal/storage"
)

// Store is an in-memory storage.Provider. Tests can inject per-path
// failures to exercise retry and crash-recovery behavior.
type Store struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	puts     map[string]int
	failPut  map[string]error
	failOnce map[string]int
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		objects:  make(map[string][]byte),
		puts:     make(map[string]int),
		failPut:  map[string]error{},
		failOnce: map[string]int{},
	}
}

// Put stores the object bytes.
func (s *Store) Put(_ context.Context, path string, _ string, data io.Reader) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read put data: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts[path]++
	if n, ok := s.failOnce[path]; ok && n > 0 {
		s.failOnce[path] = n - 1
		return fmt.Errorf("injected transient failure for %s", path)
	}
	if err, ok := s.failPut[path]; ok {
		return err
	}
	s.objects[path] = append([]byte(nil), content...)
	return nil
}

// Get returns a copy of the object bytes or storage.ErrNotFound.
func (s *Store) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.objects[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), content...), nil
}

// Exists reports whether the object is stored.
func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

// List returns stored paths under prefix in sorted order.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for path := range s.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// PutCount returns how many Put calls the path has received, including
// failed ones.
func (s *Store) PutCount(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts[path]
}

// FailPutWith makes every Put to path fail with err until cleared with a
// nil err.
func (s *Store) FailPutWith(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failPut, path)
		return
	}
	s.failPut[path] = err
}

// FailPutTimes makes the next n Puts to path fail with a transient error.
func (s *Store) FailPutTimes(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOnce[path] = n
}

// Delete removes an object if present. Tests use it to simulate partial
// remote state.
func (s *Store) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
}
