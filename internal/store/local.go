package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

var bucketWorkers = []byte("workers")

// LocalHandle is the embedded, single-process persistence backend:
// worker records live in a bbolt bucket (one bucket per entity type,
// JSON values keyed by id), the stat cache lives in sqlite, and
// completed transfers are appended to a JSONL file so the history
// survives even a corrupted database file.
type LocalHandle struct {
	db    *bolt.DB
	cache *sqliteCache

	logMu  sync.Mutex
	logF   *os.File
	logEnc *json.Encoder
}

// LocalOptions configures NewLocalHandle.
type LocalOptions struct {
	// Dir is the configured cache directory; alist-sync.db (bbolt),
	// items.db (sqlite), and completed.jsonl all live under it.
	Dir string
	// LogRetentionDays, when positive, rewrites completed.jsonl at open
	// time dropping entries whose done_at is older than the window.
	LogRetentionDays int
}

// NewLocalHandle opens (creating if absent) the bbolt worker store,
// the sqlite item cache, and the completed-log file under opts.Dir.
func NewLocalHandle(opts LocalOptions) (*LocalHandle, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	logPath := filepath.Join(opts.Dir, "completed.jsonl")
	if opts.LogRetentionDays > 0 {
		if err := pruneCompletedLog(logPath, opts.LogRetentionDays); err != nil {
			return nil, fmt.Errorf("prune completed log: %w", err)
		}
	}

	db, err := bolt.Open(filepath.Join(opts.Dir, "alist-sync.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open worker store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWorkers)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create workers bucket: %w", err)
	}

	cache, err := newSQLiteCache(filepath.Join(opts.Dir, "items.db"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open item cache: %w", err)
	}

	logF, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		db.Close()
		cache.Close()
		return nil, fmt.Errorf("open completed log: %w", err)
	}

	return &LocalHandle{
		db:     db,
		cache:  cache,
		logF:   logF,
		logEnc: json.NewEncoder(logF),
	}, nil
}

func (h *LocalHandle) SaveWorker(_ context.Context, w *model.TransferIntent) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).Put([]byte(w.ID), data)
	})
}

func (h *LocalHandle) GetWorker(_ context.Context, id string) (*model.TransferIntent, error) {
	var w *model.TransferIntent
	err := h.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get([]byte(id))
		if data == nil {
			return nil
		}
		w = &model.TransferIntent{}
		return json.Unmarshal(data, w)
	})
	return w, err
}

func (h *LocalHandle) ListLiveWorkers(_ context.Context) ([]*model.TransferIntent, error) {
	var workers []*model.TransferIntent
	err := h.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var w model.TransferIntent
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if !w.Status.Terminal() {
				workers = append(workers, &w)
			}
			return nil
		})
	})
	return workers, err
}

func (h *LocalHandle) DeleteWorker(_ context.Context, id string) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).Delete([]byte(id))
	})
}

func (h *LocalHandle) AppendCompletedLog(_ context.Context, entry *model.CompletedLog) error {
	h.logMu.Lock()
	defer h.logMu.Unlock()
	if err := h.logEnc.Encode(entry); err != nil {
		return fmt.Errorf("append completed log: %w", err)
	}
	return nil
}

func (h *LocalHandle) GetCachedItem(ctx context.Context, uri string) (*model.RemoteItem, bool, error) {
	return h.cache.get(ctx, uri)
}

func (h *LocalHandle) PutCachedItem(ctx context.Context, item *model.RemoteItem) error {
	return h.cache.put(ctx, item)
}

func (h *LocalHandle) DeleteCachedItem(ctx context.Context, uri string) error {
	return h.cache.delete(ctx, uri)
}

func (h *LocalHandle) Close() error {
	var errs []error
	if err := h.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := h.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := h.logF.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close store: %v", errs)
	}
	return nil
}

// pruneCompletedLog rewrites the completed-log file keeping only
// entries finished within the retention window. Runs once at open,
// never as a background sweep, so a long-lived daemon's history file
// shrinks at the next restart rather than mid-run.
func pruneCompletedLog(path string, retentionDays int) error {
	entries, err := replayCompletedLog(path)
	if err != nil {
		return err
	}
	if entries == nil {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	kept := entries[:0]
	for _, e := range entries {
		if e.DoneAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, e := range kept {
		if err := enc.Encode(e); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// replayCompletedLog reads every entry from the completed.jsonl file.
// Nothing on the runtime sync path reads history back; this exists for
// retention pruning, offline inspection, and the store's own tests.
func replayCompletedLog(path string) ([]*model.CompletedLog, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []*model.CompletedLog
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var entry model.CompletedLog
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, err
		}
		out = append(out, &entry)
	}
	return out, scanner.Err()
}
