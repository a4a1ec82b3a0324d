package tempfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

func TestNewRegistryCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")

	r, err := NewRegistry(Options{Dir: dir, Watermark: 1})
	require.NoError(t, err)
	require.NotNil(t, r)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewRegistryGCsOrphans(t *testing.T) {
	dir := t.TempDir()
	orphan := filepath.Join(dir, "download_tmp_leftover")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o644))

	_, err := NewRegistry(Options{Dir: dir, Watermark: 1})
	require.NoError(t, err)

	_, statErr := os.Stat(orphan)
	assert.True(t, os.IsNotExist(statErr), "orphaned download_tmp_* file should be removed at startup")
}

func TestNewRegistryLeavesUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "not_an_orphan.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	_, err := NewRegistry(Options{Dir: dir, Watermark: 1})
	require.NoError(t, err)

	_, statErr := os.Stat(keep)
	assert.NoError(t, statErr)
}

func TestReserveSucceedsWithinWatermark(t *testing.T) {
	r, err := NewRegistry(Options{Dir: t.TempDir(), Watermark: 1})
	require.NoError(t, err)

	rec, err := r.Reserve(context.Background(), "alist://src/f.mkv", 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "alist://src/f.mkv", rec.RemoteURI)
	assert.Equal(t, int64(1), rec.ProjectedSize)
	assert.Equal(t, 1, rec.RefCount)
	assert.Equal(t, int64(1), r.ProjectedUsage())
}

func TestReserveExceedsWatermark(t *testing.T) {
	// A watermark far larger than any real disk's free space guarantees
	// free-watermark is negative, so any reservation is refused.
	r, err := NewRegistry(Options{Dir: t.TempDir(), Watermark: 1 << 62})
	require.NoError(t, err)

	_, err = r.Reserve(context.Background(), "alist://src/f.mkv", 1)
	assert.ErrorIs(t, err, ErrWatermarkExceeded)
}

func TestReserveAutoClearEvictsUnreferenced(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(Options{Dir: dir, Watermark: 1 << 62, AutoClear: true})
	require.NoError(t, err)

	// Directly seed an unreferenced record so evictLocked has something
	// to reclaim, bypassing Reserve (which would itself be refused under
	// this watermark).
	orphanPath := filepath.Join(dir, "seeded")
	require.NoError(t, os.WriteFile(orphanPath, []byte("x"), 0o644))
	r.mu.Lock()
	r.records[orphanPath] = &model.TempFileRecord{LocalPath: orphanPath, ProjectedSize: 5, RefCount: 0}
	r.projected = 5
	r.mu.Unlock()

	_, err = r.Reserve(context.Background(), "alist://src/f.mkv", 1)
	assert.ErrorIs(t, err, ErrWatermarkExceeded, "even with auto_clear, an impossible watermark stays refused")

	// The refusal comes only after the unreferenced record was evicted.
	_, statErr := os.Stat(orphanPath)
	assert.True(t, os.IsNotExist(statErr), "the unreferenced file is removed by auto_clear")
	assert.Equal(t, int64(0), r.ProjectedUsage())
}

func TestRetainAndRelease(t *testing.T) {
	r, err := NewRegistry(Options{Dir: t.TempDir(), Watermark: 1})
	require.NoError(t, err)

	rec, err := r.Reserve(context.Background(), "alist://src/f.mkv", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RefCount)

	r.Retain(rec.LocalPath)
	assert.Equal(t, 2, rec.RefCount)

	r.Release(rec.LocalPath)
	assert.Equal(t, 1, rec.RefCount)

	r.Release(rec.LocalPath)
	assert.Equal(t, 0, rec.RefCount)

	r.Release(rec.LocalPath)
	assert.Equal(t, 0, rec.RefCount, "release must not go negative")
}

func TestClearRemovesFileAndRecord(t *testing.T) {
	r, err := NewRegistry(Options{Dir: t.TempDir(), Watermark: 1})
	require.NoError(t, err)

	rec, err := r.Reserve(context.Background(), "alist://src/f.mkv", 10)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(rec.LocalPath, []byte("data"), 0o644))

	require.NoError(t, r.Clear(rec.LocalPath))

	_, statErr := os.Stat(rec.LocalPath)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, int64(0), r.ProjectedUsage())
}

func TestClearUnknownPathIsNoop(t *testing.T) {
	r, err := NewRegistry(Options{Dir: t.TempDir(), Watermark: 1})
	require.NoError(t, err)

	assert.NoError(t, r.Clear("/no/such/path"))
}
