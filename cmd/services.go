package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openjudiciary/ecourts-archiver/internal/archive"
	"github.com/openjudiciary/ecourts-archiver/internal/catalog"
	"github.com/openjudiciary/ecourts-archiver/internal/clock"
	"github.com/openjudiciary/ecourts-archiver/internal/clock/system"
	"github.com/openjudiciary/ecourts-archiver/internal/config"
	"github.com/openjudiciary/ecourts-archiver/internal/logging"
	notifypubsub "github.com/openjudiciary/ecourts-archiver/internal/notify/pubsub"
	"github.com/openjudiciary/ecourts-archiver/internal/storage"
	"github.com/openjudiciary/ecourts-archiver/internal/storage/gcs"
	"github.com/openjudiciary/ecourts-archiver/internal/storage/local"
	"github.com/openjudiciary/ecourts-archiver/internal/storage/memory"
	"github.com/openjudiciary/ecourts-archiver/internal/storage/s3"
)

// services bundles everything a command needs to run archive work.
type services struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     clock.Clock
	provider  storage.Provider
	index     *archive.IndexStore
	syncer    *archive.Syncer
	manager   *archive.Manager
	catalog   *catalog.Store
	publisher *notifypubsub.Publisher
}

// buildServices loads configuration and wires the archive stack.
func buildServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	clk := system.New()
	policy := archive.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.RetryBackoffInitial(),
		MaxDelay:    cfg.RetryBackoffMax(),
	}
	syncer := archive.NewSyncer(provider, cfg.Storage.Prefix, policy, clk, logger.Named("syncer"))
	index := archive.NewIndexStore(cfg.Archive.BaseDir, clk)

	svc := &services{
		cfg:      cfg,
		logger:   logger,
		clock:    clk,
		provider: provider,
		index:    index,
		syncer:   syncer,
	}

	var sink archive.RecordSink
	if cfg.Catalog.Enabled {
		store, err := catalog.New(ctx, catalog.StoreConfig{
			DSN:      cfg.Catalog.DSN,
			Table:    cfg.Catalog.Table,
			MaxConns: int32(cfg.Catalog.MaxOpenConns),
		})
		if err != nil {
			return nil, fmt.Errorf("init catalog: %w", err)
		}
		svc.catalog = store
		sink = store
	}

	var publisher archive.Publisher
	if cfg.PubSub.TopicName != "" {
		pub, err := notifypubsub.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		svc.publisher = pub
		publisher = pub
	}

	svc.manager = archive.NewManager(archive.ManagerConfig{
		BaseDir:         cfg.Archive.BaseDir,
		PartSizeLimit:   cfg.Archive.PartSizeLimitBytes,
		ImmediateUpload: cfg.Archive.ImmediateUpload,
		Topic:           cfg.PubSub.TopicName,
		RunID:           uuid.NewString(),
	}, index, syncer, sink, publisher, clk, logger.Named("archive"))

	return svc, nil
}

func buildProvider(ctx context.Context, cfg config.Config) (storage.Provider, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		return gcs.New(ctx, gcs.Config{Bucket: cfg.Storage.Bucket})
	case "s3":
		return s3.New(ctx, s3.Config{
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			Anonymous: cfg.Storage.Anonymous,
		})
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// close releases long-lived resources in dependency order.
func (s *services) close() {
	if s.catalog != nil {
		s.catalog.Close()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("close publisher", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}
