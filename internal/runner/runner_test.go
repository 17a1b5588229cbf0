package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openjudiciary/ecourts-archiver/internal/archive"
	"github.com/openjudiciary/ecourts-archiver/internal/runner"
	"github.com/openjudiciary/ecourts-archiver/internal/storage/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	manager *archive.Manager
	syncer  *archive.Syncer
	store   *memory.Store
	clk     *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	baseDir := t.TempDir()
	clk := newFakeClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	store := memory.New()
	policy := archive.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	syncer := archive.NewSyncer(store, "archives", policy, clk, zap.NewNop())
	index := archive.NewIndexStore(baseDir, clk)
	manager := archive.NewManager(archive.ManagerConfig{BaseDir: baseDir, ImmediateUpload: true},
		index, syncer, nil, nil, clk, zap.NewNop())
	return &fixture{manager: manager, syncer: syncer, store: store, clk: clk}
}

func courtKey(complexCode string, t archive.Type) archive.Key {
	return archive.Key{
		Year:         2025,
		StateCode:    "29",
		DistrictCode: "22",
		ComplexCode:  complexCode,
		Type:         t,
	}
}

func staticTask(key archive.Key, entries ...runner.Entry) runner.Task {
	return runner.Task{
		Key: key,
		Load: func(context.Context) ([]runner.Entry, error) {
			return entries, nil
		},
	}
}

func TestRunArchivesAllTasks(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	r := runner.New(fx.manager, runner.Config{Concurrency: 3}, fx.clk, zap.NewNop())

	tasks := []runner.Task{
		staticTask(courtKey("2900101", archive.TypeOrders),
			runner.Entry{Name: "case-1.pdf", Data: []byte("a")},
			runner.Entry{Name: "case-2.pdf", Data: []byte("b")},
		),
		staticTask(courtKey("2900102", archive.TypeOrders),
			runner.Entry{Name: "case-3.pdf", Data: []byte("c")},
		),
		staticTask(courtKey("2900101", archive.TypeMetadata),
			runner.Entry{Name: "case-1.json", Data: []byte("{}")},
		),
	}

	summary, err := r.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Completed)
	assert.Zero(t, summary.Failed)
	assert.Len(t, summary.Changes, 3)

	record, err := fx.syncer.FetchIndex(context.Background(), courtKey("2900101", archive.TypeOrders))
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 2, record.FileCount)
}

func TestRunSkipsArchivedKeys(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	done := courtKey("2900101", archive.TypeOrders)
	require.NoError(t, fx.manager.Put(context.Background(), done, "case-1.pdf", []byte("x")))
	_, err := fx.manager.Close(context.Background(), done)
	require.NoError(t, err)

	// Fresh manager so the run starts with no in-process state for the key.
	fx2 := &fixture{clk: fx.clk, store: fx.store, syncer: fx.syncer}
	baseDir := t.TempDir()
	index := archive.NewIndexStore(baseDir, fx.clk)
	fx2.manager = archive.NewManager(archive.ManagerConfig{BaseDir: baseDir, ImmediateUpload: true},
		index, fx.syncer, nil, nil, fx.clk, zap.NewNop())

	r := runner.New(fx2.manager, runner.Config{Concurrency: 1, SkipExisting: true}, fx.clk, zap.NewNop())
	loaded := false
	tasks := []runner.Task{
		{
			Key: done,
			Load: func(context.Context) ([]runner.Entry, error) {
				loaded = true
				return nil, nil
			},
		},
		staticTask(courtKey("2900102", archive.TypeOrders),
			runner.Entry{Name: "case-2.pdf", Data: []byte("y")},
		),
	}

	summary, err := r.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Completed)
	assert.False(t, loaded, "skipped task must not be loaded")
}

func TestRunIsolatesTaskFailures(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	r := runner.New(fx.manager, runner.Config{Concurrency: 2}, fx.clk, zap.NewNop())

	broken := courtKey("2900101", archive.TypeOrders)
	tasks := []runner.Task{
		{
			Key: broken,
			Load: func(context.Context) ([]runner.Entry, error) {
				return nil, errors.New("source unavailable")
			},
		},
		staticTask(courtKey("2900102", archive.TypeOrders),
			runner.Entry{Name: "case-2.pdf", Data: []byte("y")},
		),
	}

	summary, err := r.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{broken.String()}, summary.FailedKeys)
	assert.Equal(t, 1, summary.Completed)
}

func TestRunToleratesDuplicateEntries(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	r := runner.New(fx.manager, runner.Config{Concurrency: 1}, fx.clk, zap.NewNop())

	key := courtKey("2900101", archive.TypeOrders)
	tasks := []runner.Task{
		staticTask(key,
			runner.Entry{Name: "case-1.pdf", Data: []byte("a")},
			runner.Entry{Name: "case-1.pdf", Data: []byte("a")},
			runner.Entry{Name: "case-2.pdf", Data: []byte("b")},
		),
	}

	summary, err := r.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, []string{"case-1.pdf", "case-2.pdf"}, summary.Changes[key.String()])
}

func TestRunStopsDispatchAtDeadline(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	r := runner.New(fx.manager, runner.Config{
		Concurrency: 1,
		Deadline:    30 * time.Minute,
	}, fx.clk, zap.NewNop())

	// The first task pushes the clock past the deadline, so later tasks must
	// not be dispatched while in-flight work still completes.
	var tasks []runner.Task
	tasks = append(tasks, runner.Task{
		Key: courtKey("2900101", archive.TypeOrders),
		Load: func(context.Context) ([]runner.Entry, error) {
			fx.clk.Advance(time.Hour)
			return []runner.Entry{{Name: "slow.pdf", Data: []byte("x")}}, nil
		},
	})
	for _, code := range []string{"2900102", "2900103"} {
		tasks = append(tasks, staticTask(courtKey(code, archive.TypeOrders),
			runner.Entry{Name: "fast.pdf", Data: []byte("y")},
		))
	}

	summary, err := r.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.Deadlined, 1)
	assert.GreaterOrEqual(t, summary.Completed, 1)
	assert.Equal(t, len(tasks), summary.Completed+summary.Deadlined)

	// The in-flight key finished cleanly despite the deadline.
	record, err := fx.syncer.FetchIndex(context.Background(),
		courtKey("2900101", archive.TypeOrders))
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 1, record.FileCount)
}
