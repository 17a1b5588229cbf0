package archive_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjudiciary/ecourts-archiver/internal/archive"
)

func TestIndexStoreLoadAbsent(t *testing.T) {
	t.Parallel()

	store := archive.NewIndexStore(t.TempDir(), newFakeClock(time.Now().UTC()))
	record, err := store.Load(testKey(archive.TypeOrders))
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestIndexStoreMergeRoundTrip(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := newFakeClock(base)
	store := archive.NewIndexStore(t.TempDir(), clk)
	key := testKey(archive.TypeOrders)

	part := archive.Part{
		Name:      "orders.tar",
		Files:     []string{"a.pdf", "b.pdf"},
		FileCount: 2,
		Size:      2048,
		SizeHuman: archive.HumanSize(2048),
		CreatedAt: base,
	}
	record, err := store.Merge(key, part)
	require.NoError(t, err)
	assert.Equal(t, 2, record.FileCount)
	assert.Equal(t, int64(2048), record.TotalSize)

	loaded, err := store.Load(key)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record, loaded)
	assert.True(t, loaded.HasFile("a.pdf"))

	// Merging the same part again must not double-count, only refresh
	// updated_at.
	clk.Advance(time.Minute)
	again, err := store.Merge(key, part)
	require.NoError(t, err)
	assert.Equal(t, 2, again.FileCount)
	assert.Equal(t, int64(2048), again.TotalSize)
	assert.Equal(t, base.Add(time.Minute), again.UpdatedAt)
	assert.Equal(t, base, again.CreatedAt)
}

func TestIndexStoreMergeAccumulatesParts(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := newFakeClock(base)
	store := archive.NewIndexStore(t.TempDir(), clk)
	key := testKey(archive.TypeMetadata)

	_, err := store.Merge(key, archive.Part{
		Name: "metadata.tar", Files: []string{"x.json"}, FileCount: 1, Size: 100, CreatedAt: base,
	})
	require.NoError(t, err)

	record, err := store.Merge(key, archive.Part{
		Name: "part-20250301T110000.tar", Files: []string{"y.json"}, FileCount: 1, Size: 200, CreatedAt: base,
	})
	require.NoError(t, err)
	assert.Len(t, record.Parts, 2)
	assert.Equal(t, 2, record.FileCount)
	assert.Equal(t, int64(300), record.TotalSize)
	assert.Equal(t, archive.HumanSize(300), record.TotalSizeHuman)
	require.NoError(t, record.Validate())
}

func TestIndexStoreRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := archive.NewIndexStore(dir, newFakeClock(time.Now().UTC()))
	key := testKey(archive.TypeOrders)

	require.NoError(t, os.MkdirAll(key.LocalDir(dir), 0o750))
	require.NoError(t, os.WriteFile(store.Path(key), []byte("{not json"), 0o640))

	_, err := store.Load(key)
	require.Error(t, err)
	assert.True(t, archive.IsIndexCorruption(err))
}

func TestIndexStoreRejectsForeignKey(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	store := archive.NewIndexStore(dir, newFakeClock(base))

	other := testKey(archive.TypeOrders)
	other.ComplexCode = "2900999"
	_, err := store.Merge(other, archive.Part{
		Name: "orders.tar", Files: []string{"a.pdf"}, FileCount: 1, Size: 10, CreatedAt: base,
	})
	require.NoError(t, err)

	// Copy the other key's index into this key's slot, as a botched manual
	// restore would.
	key := testKey(archive.TypeOrders)
	require.NoError(t, os.MkdirAll(key.LocalDir(dir), 0o750))
	data, err := os.ReadFile(store.Path(other))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(key), data, 0o640))

	_, err = store.Load(key)
	require.Error(t, err)
	assert.True(t, archive.IsIndexCorruption(err))
}

func TestIndexStoreWriteLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	store := archive.NewIndexStore(dir, newFakeClock(base))
	key := testKey(archive.TypeOrders)

	_, err := store.Merge(key, archive.Part{
		Name: "orders.tar", Files: []string{"a.pdf"}, FileCount: 1, Size: 10, CreatedAt: base,
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(key.LocalDir(dir))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".index-", "temp file left behind")
	}
	assert.Equal(t, key.IndexName(), filepath.Base(store.Path(key)))
}
