package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
}

func TestManager_Paths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir, "run-1", nil)

	assert.Equal(t, filepath.Join(dir, "run-1"), m.CheckpointDir())
	assert.Equal(t, filepath.Join(dir, "run-1", "run.json"), m.MetadataPath())
	assert.False(t, m.Exists())
}

func TestManager_ArchiveAndRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"problem_id=a/part-000001.parquet":     "alpha",
		"problem_id=b/part-000002.parquet":     "beta",
		"problem_id=b/part-000003.parquet.tmp": "in flight",
	})

	m := NewManager(t.TempDir(), "run-1", nil)
	require.NoError(t, m.Begin("workload.sqlite", src, 10))
	assert.True(t, m.Exists())

	path, err := m.Archive(ctx, src, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "backup_1.tar.lz4", filepath.Base(path))

	dst := t.TempDir()
	require.NoError(t, Restore(path, dst))

	data, err := os.ReadFile(filepath.Join(dst, "problem_id=b", "part-000002.parquet"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))
	assert.NoFileExists(t, filepath.Join(dst, "problem_id=b", "part-000003.parquet.tmp"))

	meta, err := m.LoadMetadata()
	require.NoError(t, err)
	assert.Equal(t, MetadataVersion, meta.Version)
	assert.Equal(t, int64(5), meta.Processed)
	assert.Equal(t, int64(1), meta.Failed)
	assert.Equal(t, int64(10), meta.Target)
	assert.Equal(t, []string{"backup_1.tar.lz4"}, meta.Archives)

	require.NoError(t, m.Finish(10, 2))

	meta, err = m.LoadMetadata()
	require.NoError(t, err)
	assert.Equal(t, int64(10), meta.Processed)
}

func TestManager_KeepPrunesOldArchives(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"x/part.parquet": "x"})

	m := NewManager(t.TempDir(), "run-2", nil)
	m.Keep = 2

	for i := range 4 {
		_, err := m.Archive(ctx, src, int64(i), 0)
		require.NoError(t, err)
	}

	archives, err := m.Archives()
	require.NoError(t, err)
	require.Len(t, archives, 2)
	assert.Equal(t, "backup_3.tar.lz4", filepath.Base(archives[0]))
	assert.Equal(t, "backup_4.tar.lz4", filepath.Base(archives[1]))
}

func TestManager_Validate(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir(), "run-3", nil)
	require.NoError(t, m.Begin("w.sqlite", "out", 1))

	require.NoError(t, m.Validate("w.sqlite", "out"))
	require.ErrorIs(t, m.Validate("other.sqlite", "out"), ErrWorkloadMismatch)
	require.ErrorIs(t, m.Validate("w.sqlite", "elsewhere"), ErrOutputMismatch)
}

func TestManager_Clear(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir(), "run-4", nil)
	require.NoError(t, m.Begin("w", "o", 0))
	require.True(t, m.Exists())

	require.NoError(t, m.Clear())
	assert.False(t, m.Exists())
	require.NoError(t, m.Finish(1, 1))
}

func TestRestore_MissingArchive(t *testing.T) {
	t.Parallel()

	err := Restore(filepath.Join(t.TempDir(), "nope.tar.lz4"), t.TempDir())
	require.Error(t, err)
}
