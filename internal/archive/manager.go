package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openjudiciary/ecourts-archiver/internal/clock"
	"github.com/openjudiciary/ecourts-archiver/internal/metrics"
)

// RecordSink mirrors merged index records into a secondary queryable store.
type RecordSink interface {
	UpsertRecord(ctx context.Context, record *IndexRecord) error
}

// Publisher announces sealed parts to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ManagerConfig controls Manager behavior.
type ManagerConfig struct {
	// BaseDir is the local root under which containers and indexes live.
	BaseDir string
	// PartSizeLimit is the sealing threshold; zero means the 1 GiB default.
	PartSizeLimit int64
	// ImmediateUpload uploads each sealed part and the refreshed index
	// synchronously right after sealing. With it a crash loses at most the
	// unsealed tail of the active part, never a sealed one.
	ImmediateUpload bool
	// Topic names the notification topic for sealed parts. Empty disables
	// publishing.
	Topic string
	// RunID tags notifications and catalog rows with the producing run.
	RunID string
}

// Manager is the archive facade producers write through. It owns one
// container builder per open key, folds sealed parts into the index store,
// and coordinates uploads with the remote synchronizer. Each key's state
// machine is independent: keys fail, seal, and close in isolation, and all
// operations on one key are serialized by a per-key lock.
type Manager struct {
	cfg         ManagerConfig
	index       *IndexStore
	partitioner *Partitioner
	syncer      *Syncer
	sink        RecordSink
	publisher   Publisher
	clock       clock.Clock
	logger      *zap.Logger

	mu     sync.Mutex
	states map[Key]*keyState
}

type keyState struct {
	mu      sync.Mutex
	builder *Builder
	record  *IndexRecord
	closed  bool
	changes []string
}

// NewManager constructs a Manager. syncer, sink, and publisher are
// optional; a nil syncer keeps the run entirely local.
func NewManager(
	cfg ManagerConfig,
	index *IndexStore,
	syncer *Syncer,
	sink RecordSink,
	publisher Publisher,
	clk clock.Clock,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:         cfg,
		index:       index,
		partitioner: NewPartitioner(cfg.PartSizeLimit, clk),
		syncer:      syncer,
		sink:        sink,
		publisher:   publisher,
		clock:       clk,
		logger:      logger,
		states:      make(map[Key]*keyState),
	}
}

func (m *Manager) state(key Key) *keyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	if !ok {
		st = &keyState{}
		m.states[key] = st
	}
	return st
}

// Put appends one named payload to the key's active container part,
// opening the key (with local/remote index reconciliation) on first use and
// sealing the part when it crosses the size threshold. A name already
// archived anywhere under the key is rejected with a DuplicateNameError and
// changes nothing.
func (m *Manager) Put(ctx context.Context, key Key, name string, data []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if name == "" {
		return errors.New("archive: entry name is required")
	}

	st := m.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return ErrKeyClosed
	}
	// A sealed builder still present means a previous upload failed; finish
	// it before accepting new entries so parts stay ordered.
	if st.builder != nil && st.builder.Sealed() {
		if err := m.syncSealedLocked(ctx, key, st, "threshold"); err != nil {
			return err
		}
	}
	if st.builder == nil {
		if err := m.openLocked(ctx, key, st); err != nil {
			return err
		}
	}

	if (st.record != nil && st.record.HasFile(name)) || st.builder.Contains(name) {
		metrics.ObserveDuplicate(string(key.Type))
		return &DuplicateNameError{Key: key, Name: name}
	}

	ref, err := st.builder.Append(name, data)
	if err != nil {
		return err
	}
	st.changes = append(st.changes, name)
	metrics.ObserveEntry(string(key.Type), len(data))
	m.logger.Debug("appended entry",
		zap.Stringer("key", key),
		zap.String("entry", ref.Name),
		zap.String("part", ref.Part),
		zap.Int64("part_size", st.builder.Size()),
	)

	if m.partitioner.ShouldSeal(st.builder.Size()) {
		return m.sealLocked(ctx, key, st, "threshold")
	}
	return nil
}

// openLocked prepares the key on first write: it loads the local index,
// reconciles it against the remote one, and opens the next container part.
func (m *Manager) openLocked(ctx context.Context, key Key, st *keyState) error {
	if st.record == nil {
		local, err := m.index.Load(key)
		if err != nil {
			return err
		}
		if m.syncer != nil {
			merged, err := m.syncer.Reconcile(ctx, key, local)
			if err != nil {
				return err
			}
			if merged != nil {
				if err := m.index.Put(key, merged); err != nil {
					return err
				}
				local = merged
			}
		}
		st.record = local
	}

	name := m.partitioner.NextPartName(key, st.record)
	builder, err := OpenBuilder(key, key.LocalDir(m.cfg.BaseDir), name, m.clock)
	if err != nil {
		return err
	}
	st.builder = builder
	metrics.IncOpenKeys()
	m.logger.Info("opened container part",
		zap.Stringer("key", key),
		zap.String("part", name),
		zap.Int64("resumed_bytes", builder.Size()),
	)
	return nil
}

// sealLocked seals the active part and hands it to syncSealedLocked.
func (m *Manager) sealLocked(ctx context.Context, key Key, st *keyState, reason string) error {
	if st.builder == nil {
		return nil
	}
	if !st.builder.Sealed() {
		if _, err := st.builder.Seal(); err != nil {
			return err
		}
		metrics.ObservePartSealed(string(key.Type), reason)
	}
	return m.syncSealedLocked(ctx, key, st, reason)
}

// syncSealedLocked uploads the sealed part's bytes, folds the part into the
// index, and uploads the refreshed index, in that order. The index (local or
// remote) never records a part whose bytes are not already durable remotely,
// so a crash anywhere in the sequence leaves only the sealed container on
// disk and retrying heals it: every step is idempotent. Only after
// everything succeeds is the builder slot cleared for the next part.
func (m *Manager) syncSealedLocked(ctx context.Context, key Key, st *keyState, reason string) error {
	part, err := st.builder.Seal()
	if err != nil {
		return err
	}

	if m.syncer != nil && m.cfg.ImmediateUpload {
		start := m.clock.Now()
		if err := m.syncer.UploadPart(ctx, key, part, st.builder.Path()); err != nil {
			return err
		}
		metrics.ObserveUploadDuration("part", m.clock.Now().Sub(start))
	}

	record, err := m.index.Merge(key, part)
	if err != nil {
		return err
	}
	st.record = record

	if m.syncer != nil && m.cfg.ImmediateUpload {
		if err := m.syncer.UploadIndex(ctx, key, record); err != nil {
			return err
		}
	}

	if m.sink != nil {
		if err := m.sink.UpsertRecord(ctx, record); err != nil {
			m.logger.Warn("catalog upsert failed",
				zap.Stringer("key", key),
				zap.Error(err),
			)
		}
	}
	m.publishSealed(ctx, key, part, record, reason)

	st.builder = nil
	metrics.DecOpenKeys()
	return nil
}

func (m *Manager) publishSealed(ctx context.Context, key Key, part Part, record *IndexRecord, reason string) {
	if m.publisher == nil || m.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"event":        "part_sealed",
		"run_id":       m.cfg.RunID,
		"key":          key.String(),
		"archive_type": string(key.Type),
		"part":         part.Name,
		"part_files":   part.FileCount,
		"part_size":    part.Size,
		"total_files":  record.FileCount,
		"total_size":   record.TotalSize,
		"reason":       reason,
		"timestamp":    m.clock.Now().Format(time.RFC3339),
	}
	if _, err := m.publisher.Publish(ctx, m.cfg.Topic, payload); err != nil {
		m.logger.Warn("publish sealed-part event failed",
			zap.Stringer("key", key),
			zap.Error(err),
		)
	}
}

// Flush seals and syncs the key's active part even below the size
// threshold, leaving the key open. Flushing a key with no pending entries
// is a no-op.
func (m *Manager) Flush(ctx context.Context, key Key) error {
	st := m.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return ErrKeyClosed
	}
	if st.builder == nil {
		return nil
	}
	if st.builder.Empty() && !st.builder.Sealed() {
		return nil
	}
	return m.sealLocked(ctx, key, st, "flush")
}

// Close force-seals and uploads whatever the key has pending and marks it
// closed; later writes get ErrKeyClosed. It returns the key's final index
// record, or nil when nothing was ever archived under it.
func (m *Manager) Close(ctx context.Context, key Key) (*IndexRecord, error) {
	st := m.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return st.record.Clone(), ErrKeyClosed
	}
	start := m.clock.Now()

	if st.builder != nil {
		if st.builder.Empty() && !st.builder.Sealed() {
			if err := st.builder.Discard(); err != nil {
				return nil, err
			}
			st.builder = nil
			metrics.DecOpenKeys()
		} else if err := m.sealLocked(ctx, key, st, "close"); err != nil {
			return nil, err
		}
	}

	if st.record == nil {
		record, err := m.index.Load(key)
		if err != nil {
			return nil, err
		}
		st.record = record
	}

	st.closed = true
	metrics.ObserveCloseDuration(m.clock.Now().Sub(start))
	m.logger.Info("closed archive key", zap.Stringer("key", key))
	return st.record.Clone(), nil
}

// CloseAll closes every key the manager has touched, continuing past
// per-key failures and returning them joined.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	keys := make([]Key, 0, len(m.states))
	for key, st := range m.states {
		if !st.closed {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, key := range keys {
		if _, err := m.Close(ctx, key); err != nil && !errors.Is(err, ErrKeyClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExistsRemotely reports whether the key is already durably archived
// remotely, letting producers skip its source work entirely. Without a
// synchronizer it always reports false.
func (m *Manager) ExistsRemotely(ctx context.Context, key Key) (bool, error) {
	if m.syncer == nil {
		return false, nil
	}
	exists, err := m.syncer.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		metrics.ObserveKeySkipped()
	}
	return exists, nil
}

// Record returns the key's current index record from the local store.
func (m *Manager) Record(key Key) (*IndexRecord, error) {
	return m.index.Load(key)
}

// Changes reports the entry names archived per key during this manager's
// lifetime, for end-of-run summaries.
func (m *Manager) Changes() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string, len(m.states))
	for key, st := range m.states {
		st.mu.Lock()
		if len(st.changes) > 0 {
			names := make([]string, len(st.changes))
			copy(names, st.changes)
			out[key.String()] = names
		}
		st.mu.Unlock()
	}
	return out
}
