package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/openjudiciary/ecourts-archiver/internal/clock"
)

// IndexStore persists one IndexRecord per key as a JSON file co-located
// with the key's container parts. Writes go through a temp file and rename
// so concurrent readers (the parquet converter reads these files directly)
// never observe a partially written record.
type IndexStore struct {
	baseDir string
	clock   clock.Clock

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

// NewIndexStore creates an IndexStore rooted at baseDir.
func NewIndexStore(baseDir string, clk clock.Clock) *IndexStore {
	return &IndexStore{
		baseDir: baseDir,
		clock:   clk,
		locks:   make(map[Key]*sync.Mutex),
	}
}

// Path returns the index file location for the key.
func (s *IndexStore) Path(key Key) string {
	return filepath.Join(key.LocalDir(s.baseDir), key.IndexName())
}

func (s *IndexStore) keyLock(key Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Load reads and validates the key's record. It returns (nil, nil) when no
// index exists yet. A record whose aggregates disagree with its parts is
// rejected with an IndexCorruptionError rather than trusted.
func (s *IndexStore) Load(key Key) (*IndexRecord, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index for %s: %w", key, err)
	}
	return decodeRecord(key, data)
}

func decodeRecord(key Key, data []byte) (*IndexRecord, error) {
	var record IndexRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &IndexCorruptionError{Key: key, Reason: fmt.Sprintf("unparseable index: %v", err)}
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if record.Key() != key {
		return nil, &IndexCorruptionError{
			Key:    key,
			Reason: fmt.Sprintf("index file describes key %s", record.Key()),
		}
	}
	return &record, nil
}

// Merge folds a sealed part into the key's record, creating the record on
// first use, and writes the result atomically. Merging the same part name
// twice only refreshes updated_at, so a crash between upload and index
// write can be retried without double-counting.
func (s *IndexStore) Merge(key Key, part Part) (*IndexRecord, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.Load(key)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if record == nil {
		record = NewIndexRecord(key, now)
	}
	record.ApplyPart(part, now)
	if err := s.write(key, record); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// Put replaces the key's record wholesale. It is used by reconciliation to
// install a merged local/remote record. The record is validated first.
func (s *IndexStore) Put(key Key, record *IndexRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	return s.write(key, record)
}

func (s *IndexStore) write(key Key, record *IndexRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index for %s: %w", key, err)
	}

	dir := key.LocalDir(s.baseDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create index dir for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(dir, ".index-*")
	if err != nil {
		return fmt.Errorf("create temp index for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp index for %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp index for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		return fmt.Errorf("install index for %s: %w", key, err)
	}
	return nil
}
