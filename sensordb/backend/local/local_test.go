package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensordb/sensordb/sensordb/backend"
)

func testBackend(t *testing.T) backend.Backend {
	t.Helper()

	b, err := New(&Config{
		Path:    t.TempDir(),
		ListTTL: time.Minute,
	}, log.NewNopLogger())
	require.NoError(t, err)
	return b
}

func TestReadWrite(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	path := "press-01/2024/01/01/00/temperature.parquet"
	payload := []byte("not really parquet")

	_, err := b.Read(ctx, path)
	assert.True(t, backend.IsNotFound(err))

	require.NoError(t, b.Write(ctx, path, payload))

	got, err := b.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	ok, err := b.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)

	attrs, err := b.Stat(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), attrs.Size)
}

func TestListCachesUntilCleared(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "press-01/2024/01/01/00/temperature.parquet", []byte("x")))

	paths, err := b.List(ctx, "press-01")
	require.NoError(t, err)
	require.Len(t, paths, 1)

	// a new object is invisible until the listing cache is invalidated
	require.NoError(t, b.Write(ctx, "press-01/2024/01/01/01/temperature.parquet", []byte("x")))
	paths, err = b.List(ctx, "press-01")
	require.NoError(t, err)
	assert.Len(t, paths, 1)

	b.ClearListingCache()
	paths, err = b.List(ctx, "press-01")
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestListMissingPrefixIsEmpty(t *testing.T) {
	b := testBackend(t)

	paths, err := b.List(context.Background(), "no-such-asset")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestHealth(t *testing.T) {
	dir := t.TempDir()
	b, err := New(&Config{Path: dir}, log.NewNopLogger())
	require.NoError(t, err)

	report := b.Health(context.Background())
	assert.True(t, report.Healthy)

	require.NoError(t, os.RemoveAll(dir))
	report = b.Health(context.Background())
	assert.False(t, report.Healthy)
}

func TestNewRejectsMissingPath(t *testing.T) {
	_, err := New(&Config{Path: filepath.Join(t.TempDir(), "missing")}, log.NewNopLogger())
	assert.Error(t, err)
}
