package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjudiciary/ecourts-archiver/internal/storage"
	"github.com/openjudiciary/ecourts-archiver/internal/storage/memory"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a/b/one.tar", "application/x-tar", strings.NewReader("bytes")))

	data, err := store.Get(ctx, "a/b/one.tar")
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), data)

	exists, err := store.Exists(ctx, "a/b/one.tar")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "a/b/other.tar")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(ctx, "a/b/other.tar")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreList(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	for _, path := range []string{"x/1", "x/2", "y/1"} {
		require.NoError(t, store.Put(ctx, path, "", strings.NewReader("v")))
	}

	paths, err := store.List(ctx, "x/")
	require.NoError(t, err)
	assert.Equal(t, []string{"x/1", "x/2"}, paths)
}

func TestStoreInjectedFailures(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()

	store.FailPutTimes("flaky", 1)
	err := store.Put(ctx, "flaky", "", strings.NewReader("v"))
	require.Error(t, err)
	require.NoError(t, store.Put(ctx, "flaky", "", strings.NewReader("v")))
	assert.Equal(t, 2, store.PutCount("flaky"))

	boom := errors.New("down")
	store.FailPutWith("broken", boom)
	err = store.Put(ctx, "broken", "", strings.NewReader("v"))
	assert.ErrorIs(t, err, boom)
	store.FailPutWith("broken", nil)
	require.NoError(t, store.Put(ctx, "broken", "", strings.NewReader("v")))
}
