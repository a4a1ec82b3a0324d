// Package tempfile manages locally staged downloads used by the
// two-stage copy transfer (download to cache, then upload from
// cache): refcounted local paths, a free-space-based back-pressure
// watermark, and garbage collection of any download_tmp_* file left
// behind by a crashed worker.
package tempfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alist-sync/alist-sync-go/internal/constants"
	"github.com/alist-sync/alist-sync-go/internal/model"
)

// ErrWatermarkExceeded is returned by Reserve when honoring the
// request would push projected cache usage above the configured
// watermark; callers should back off and retry later rather than
// downloading and failing at Put time.
var ErrWatermarkExceeded = fmt.Errorf("tempfile: cache watermark exceeded")

// Registry tracks every locally staged download under one cache
// directory.
type Registry struct {
	mu        sync.Mutex
	dir       string
	watermark int64
	autoClear bool
	records   map[string]*model.TempFileRecord // keyed by LocalPath
	projected int64
	log       zerolog.Logger
}

// Options configures a Registry.
type Options struct {
	Dir       string
	Watermark int64 // bytes; 0 uses constants.DefaultCacheWatermarkBytes
	AutoClear bool  // reclaim unreferenced files under pressure, in no set order
	Log       zerolog.Logger
}

// NewRegistry creates dir if needed and GCs any download_tmp_* file
// left behind by a previous crashed run, then returns an empty
// Registry ready to serve Reserve calls.
func NewRegistry(opts Options) (*Registry, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tempfile cache dir: %w", err)
	}

	watermark := opts.Watermark
	if watermark <= 0 {
		watermark = constants.DefaultCacheWatermarkBytes
	}

	r := &Registry{
		dir:       opts.Dir,
		watermark: watermark,
		autoClear: opts.AutoClear,
		records:   make(map[string]*model.TempFileRecord),
		log:       opts.Log,
	}

	if err := r.gcOrphans(); err != nil {
		r.log.Warn().Err(err).Msg("tempfile: orphan gc failed")
	}

	return r, nil
}

// gcOrphans removes any download_tmp_* entry already on disk at
// startup — output from a worker that never reached its upload step
// before the process died.
func (r *Registry) gcOrphans() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), constants.TempFilePrefix) {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		if err := os.Remove(path); err != nil {
			r.log.Warn().Err(err).Str("path", path).Msg("tempfile: failed to remove orphan")
			continue
		}
		r.log.Info().Str("path", path).Msg("tempfile: removed orphan download")
	}
	return nil
}

// Reserve allocates a local path for a download of remoteURI,
// projected to be projectedSize bytes. It refuses when honoring the
// reservation would exceed the configured watermark unless autoClear
// is set, in which case it first evicts unreferenced records to make
// room. Eviction walks the record map, so which unreferenced records
// go first is not defined.
func (r *Registry) Reserve(ctx context.Context, remoteURI string, projectedSize int64) (*model.TempFileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	free, err := FreeBytes(r.dir)
	if err != nil {
		return nil, err
	}

	if r.projected+projectedSize > free-r.watermark {
		if !r.autoClear || !r.evictLocked(projectedSize, free) {
			return nil, ErrWatermarkExceeded
		}
	}

	name := constants.TempFilePrefix + uuid.NewString()
	rec := &model.TempFileRecord{
		LocalPath:     filepath.Join(r.dir, name),
		RemoteURI:     remoteURI,
		ProjectedSize: projectedSize,
		RefCount:      1,
	}
	r.records[rec.LocalPath] = rec
	r.projected += projectedSize
	return rec, nil
}

// evictLocked removes unreferenced (RefCount==0) records until enough
// headroom exists for need bytes, or there is nothing left to evict.
// Caller must hold r.mu.
func (r *Registry) evictLocked(need, free int64) bool {
	for path, rec := range r.records {
		if r.projected+need <= free-r.watermark {
			return true
		}
		if rec.RefCount > 0 {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.log.Warn().Err(err).Str("path", path).Msg("tempfile: auto_clear remove failed")
			continue
		}
		r.projected -= rec.ProjectedSize
		delete(r.records, path)
	}
	return r.projected+need <= free-r.watermark
}

// Retain increments the refcount on the record at localPath, e.g.
// when a second sync group member also wants the already-downloaded
// content.
func (r *Registry) Retain(localPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[localPath]; ok {
		rec.RefCount++
	}
}

// Release decrements the refcount on the record at localPath. Once it
// reaches zero the file becomes eligible for auto_clear eviction but
// is not deleted immediately — Clear removes it explicitly, typically
// once the owning worker reaches a terminal status.
func (r *Registry) Release(localPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[localPath]; ok && rec.RefCount > 0 {
		rec.RefCount--
	}
}

// Clear deletes the local file at localPath and drops its record,
// regardless of refcount. Called once a worker's transfer terminates
// (done, failed, or recheck-confirmed).
func (r *Registry) Clear(localPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[localPath]
	if !ok {
		return nil
	}
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear tempfile %s: %w", localPath, err)
	}
	r.projected -= rec.ProjectedSize
	delete(r.records, localPath)
	return nil
}

// ProjectedUsage returns the sum of ProjectedSize across all currently
// tracked records.
func (r *Registry) ProjectedUsage() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projected
}

// WatchPressure periodically checks free space against the watermark
// and logs a warning, so an operator notices cache exhaustion before
// downloads start being held back (requeued) by ErrWatermarkExceeded.
// It blocks until ctx is done.
func (r *Registry) WatchPressure(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			free, err := FreeBytes(r.dir)
			if err != nil {
				r.log.Warn().Err(err).Msg("tempfile: free space check failed")
				continue
			}
			if free < r.watermark {
				r.log.Warn().
					Int64("free_bytes", free).
					Int64("watermark_bytes", r.watermark).
					Msg("tempfile: cache below watermark")
			}
		}
	}
}
