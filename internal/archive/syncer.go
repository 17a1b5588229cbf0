package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openjudiciary/ecourts-archiver/internal/clock"
	"github.com/openjudiciary/ecourts-archiver/internal/metrics"
	"github.com/openjudiciary/ecourts-archiver/internal/storage"
)

const (
	tarContentType   = "application/x-tar"
	indexContentType = "application/json"
)

// Syncer mirrors sealed container parts and index records to a remote
// object store and reads them back for resume and crash recovery. All
// remote operations go through one retry policy; part bytes are always
// uploaded before the index that references them.
type Syncer struct {
	provider storage.Provider
	prefix   string
	policy   RetryPolicy
	clock    clock.Clock
	logger   *zap.Logger
}

// NewSyncer creates a Syncer. prefix is the bucket path prefix all objects
// live under; it may be empty.
func NewSyncer(provider storage.Provider, prefix string, policy RetryPolicy, clk clock.Clock, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Syncer{
		provider: provider,
		prefix:   prefix,
		policy:   policy,
		clock:    clk,
		logger:   logger,
	}
}

// Prefix returns the normalized remote path prefix.
func (s *Syncer) Prefix() string {
	return s.prefix
}

// do runs a remote operation under the retry policy, wrapping the terminal
// error in a RemoteError.
func (s *Syncer) do(ctx context.Context, op string, key Key, fn func() error) error {
	// Not-found is a result, not a failure; never burn retries on it.
	stop := func(err error) bool {
		return storage.IsFatal(err) || errors.Is(err, storage.ErrNotFound)
	}
	attempts, err := s.policy.Do(ctx, stop, func() error {
		err := fn()
		if err != nil && !storage.IsFatal(err) && !errors.Is(err, storage.ErrNotFound) {
			metrics.ObserveRemoteRetry(op)
			s.logger.Warn("remote operation failed, may retry",
				zap.String("op", op),
				zap.Stringer("key", key),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		return &RemoteError{
			Op:       op,
			Key:      key,
			Attempts: attempts,
			Fatal:    storage.IsFatal(err),
			Err:      err,
		}
	}
	return nil
}

// Exists reports whether the key is already durably archived: its remote
// index exists and records at least one part with files. Producers use this
// probe to skip keys entirely.
func (s *Syncer) Exists(ctx context.Context, key Key) (bool, error) {
	record, err := s.FetchIndex(ctx, key)
	if err != nil {
		return false, err
	}
	return record != nil && record.FileCount > 0 && len(record.Parts) > 0, nil
}

// FetchIndex downloads and validates the key's remote index record. It
// returns (nil, nil) when no remote index exists.
func (s *Syncer) FetchIndex(ctx context.Context, key Key) (*IndexRecord, error) {
	path := key.RemoteIndexPath(s.prefix)
	var data []byte
	err := s.do(ctx, "fetch_index", key, func() error {
		var err error
		data, err = s.provider.Get(ctx, path)
		return err
	})
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) && errors.Is(remote.Err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRecord(key, data)
}

// UploadPart uploads a sealed part's container file. Retries reopen the
// file so a half-sent body is never resumed mid-stream. The caller must
// not upload the index referencing the part until this returns nil.
func (s *Syncer) UploadPart(ctx context.Context, key Key, part Part, localPath string) error {
	remotePath := key.RemotePartPath(s.prefix, part.Name)
	err := s.do(ctx, "upload_part", key, func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("open sealed part %s: %w", localPath, err)
		}
		defer f.Close()
		return s.provider.Put(ctx, remotePath, tarContentType, f)
	})
	if err != nil {
		metrics.ObserveUpload("part", "error")
		return err
	}
	metrics.ObserveUpload("part", "ok")
	s.logger.Info("uploaded part",
		zap.Stringer("key", key),
		zap.String("part", part.Name),
		zap.Int64("size", part.Size),
	)
	return nil
}

// UploadIndex uploads the key's index record. Call only after every part
// the record references has been durably uploaded.
func (s *Syncer) UploadIndex(ctx context.Context, key Key, record *IndexRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index for %s: %w", key, err)
	}
	remotePath := key.RemoteIndexPath(s.prefix)
	uploadErr := s.do(ctx, "upload_index", key, func() error {
		return s.provider.Put(ctx, remotePath, indexContentType, bytes.NewReader(data))
	})
	if uploadErr != nil {
		metrics.ObserveUpload("index", "error")
		return uploadErr
	}
	metrics.ObserveUpload("index", "ok")
	return nil
}

// Reconcile merges the local record with the remote one (union of parts by
// name) and reports any part-level conflict as an IndexCorruptionError
// alongside the merged record. Either side may be nil.
func (s *Syncer) Reconcile(ctx context.Context, key Key, local *IndexRecord) (*IndexRecord, error) {
	remote, err := s.FetchIndex(ctx, key)
	if err != nil {
		return nil, err
	}
	merged, mergeErr := MergeRecords(local, remote, s.clock.Now())
	if mergeErr != nil {
		s.logger.Error("local and remote index disagree",
			zap.Stringer("key", key),
			zap.Error(mergeErr),
		)
		return merged, mergeErr
	}
	return merged, nil
}

// LatestUpdate scans remote metadata indexes for the state and returns the
// newest updated_at across them, the watermark scraping resumes from. The
// zero time means no index was found.
func (s *Syncer) LatestUpdate(ctx context.Context, stateCode string) (time.Time, error) {
	listPrefix := s.prefix + TypeMetadata.remotePrefix() + "/"
	var paths []string
	err := s.do(ctx, "list_indexes", Key{}, func() error {
		var err error
		paths, err = s.provider.List(ctx, listPrefix)
		return err
	})
	if err != nil {
		return time.Time{}, err
	}

	stateSegment := "/state=" + stateCode + "/"
	var latest time.Time
	for _, path := range paths {
		if !strings.HasSuffix(path, ".index.json") || !strings.Contains(path, stateSegment) {
			continue
		}
		data, err := s.provider.Get(ctx, path)
		if err != nil {
			s.logger.Debug("could not read remote index", zap.String("path", path), zap.Error(err))
			continue
		}
		var record IndexRecord
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Debug("could not parse remote index", zap.String("path", path), zap.Error(err))
			continue
		}
		if record.UpdatedAt.After(latest) {
			latest = record.UpdatedAt
		}
	}
	return latest, nil
}
