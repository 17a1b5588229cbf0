// Package runner executes batch archive runs: it fans key tasks out across
// workers, each of which feeds entries through the archive manager and
// closes the key.
package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openjudiciary/ecourts-archiver/internal/archive"
	"github.com/openjudiciary/ecourts-archiver/internal/clock"
)

// Entry is one named payload to archive.
type Entry struct {
	Name string
	Data []byte
}

// Task is one unit of work: an archive key plus a loader producing its
// entries. Load runs inside the worker so sources are read lazily.
type Task struct {
	Key  archive.Key
	Load func(ctx context.Context) ([]Entry, error)
}

// Config controls Runner behavior.
type Config struct {
	// Concurrency is the number of parallel workers.
	Concurrency int
	// Deadline bounds the whole run; zero means unbounded. The deadline is
	// checked between tasks, so a task that started before it keeps running
	// to completion rather than leaving a half-archived key.
	Deadline time.Duration
	// SkipExisting probes the remote index before loading a task and skips
	// keys that are already durably archived.
	SkipExisting bool
}

// Summary reports what a run did.
type Summary struct {
	Completed  int
	Skipped    int
	Deadlined  int
	Failed     int
	FailedKeys []string
	Changes    map[string][]string
}

// Runner drains tasks through an archive manager.
type Runner struct {
	manager *archive.Manager
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
}

// New constructs a Runner.
func New(manager *archive.Manager, cfg Config, clk clock.Clock, logger *zap.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		manager: manager,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
	}
}

// Run processes the tasks and returns a Summary. Task failures do not stop
// the run; they are counted and the remaining tasks proceed. Run always
// closes every touched key before returning.
func (r *Runner) Run(ctx context.Context, tasks []Task) (Summary, error) {
	var deadline time.Time
	if r.cfg.Deadline > 0 {
		deadline = r.clock.Now().Add(r.cfg.Deadline)
	}

	taskCh := make(chan Task)
	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
	)

	record := func(update func(*Summary)) {
		mu.Lock()
		defer mu.Unlock()
		update(&summary)
	}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				if err := r.runTask(ctx, task); err != nil {
					key := task.Key.String()
					r.logger.Error("task failed",
						zap.String("key", key),
						zap.Error(err),
					)
					record(func(s *Summary) {
						s.Failed++
						s.FailedKeys = append(s.FailedKeys, key)
					})
					continue
				}
				record(func(s *Summary) { s.Completed++ })
			}
		}()
	}

dispatch:
	for i, task := range tasks {
		if !deadline.IsZero() && !r.clock.Now().Before(deadline) {
			record(func(s *Summary) { s.Deadlined = len(tasks) - i })
			r.logger.Warn("run deadline reached, stopping dispatch",
				zap.Int("remaining", len(tasks)-i),
			)
			break
		}
		if r.cfg.SkipExisting {
			exists, err := r.manager.ExistsRemotely(ctx, task.Key)
			if err != nil {
				r.logger.Warn("existence probe failed, archiving anyway",
					zap.Stringer("key", task.Key),
					zap.Error(err),
				)
			} else if exists {
				record(func(s *Summary) { s.Skipped++ })
				continue
			}
		}
		select {
		case taskCh <- task:
		case <-ctx.Done():
			record(func(s *Summary) { s.Deadlined = len(tasks) - i })
			break dispatch
		}
	}
	close(taskCh)
	wg.Wait()

	closeErr := r.manager.CloseAll(ctx)
	summary.Changes = r.manager.Changes()
	return summary, closeErr
}

// runTask archives one key. Duplicate entries are tolerated: a name that is
// already archived just does not count as new work.
func (r *Runner) runTask(ctx context.Context, task Task) error {
	entries, err := task.Load(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		err := r.manager.Put(ctx, task.Key, entry.Name, entry.Data)
		if err != nil {
			if archive.IsDuplicateName(err) {
				r.logger.Debug("entry already archived",
					zap.Stringer("key", task.Key),
					zap.String("entry", entry.Name),
				)
				continue
			}
			return err
		}
	}
	_, err = r.manager.Close(ctx, task.Key)
	return err
}
