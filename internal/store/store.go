// Package store is the engine's persistence layer: durable storage
// for live worker records (so a crashed process can resume instead of
// re-scanning everything), an append-only completed-transfer log, and
// a stat cache the checker consults before re-querying the upstream.
// Two interchangeable backends satisfy Handle: a local embedded one
// (bbolt + sqlite) and a document-database one backed by MongoDB,
// selected by whether mongodb_uri is set.
package store

import (
	"context"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

// Handle is the full Persistence Handle surface every sync component
// depends on. Nothing outside this package knows which backend is in
// play.
type Handle interface {
	// SaveWorker upserts a TransferIntent's current state.
	SaveWorker(ctx context.Context, w *model.TransferIntent) error
	// GetWorker returns the TransferIntent with id, or (nil, nil) if
	// absent.
	GetWorker(ctx context.Context, id string) (*model.TransferIntent, error)
	// ListLiveWorkers returns every TransferIntent that has not yet
	// reached a terminal status, used both to resume after a restart
	// and to seed the lock registry.
	ListLiveWorkers(ctx context.Context) ([]*model.TransferIntent, error)
	// DeleteWorker removes a worker record once its CompletedLog entry
	// has been durably appended.
	DeleteWorker(ctx context.Context, id string) error

	// AppendCompletedLog appends one record to the durable,
	// append-only history of finished transfers.
	AppendCompletedLog(ctx context.Context, entry *model.CompletedLog) error

	// GetCachedItem returns the last-observed RemoteItem stat for uri,
	// and whether it was present.
	GetCachedItem(ctx context.Context, uri string) (*model.RemoteItem, bool, error)
	// PutCachedItem records the latest observed stat for an item's
	// URI, consulted by the checker's skip-if-unchanged check in every
	// mode.
	PutCachedItem(ctx context.Context, item *model.RemoteItem) error
	// DeleteCachedItem drops uri from the stat cache, e.g. after the
	// item is deleted upstream.
	DeleteCachedItem(ctx context.Context, uri string) error

	// Close releases any underlying connection or file handle.
	Close() error
}

// LoadLocks returns the set of URIs claimed by every currently live
// (non-terminal) worker, the way internal/lockregistry seeds itself at
// startup so a resumed process never double-acts on a URI a
// surviving worker record already owns.
func LoadLocks(ctx context.Context, h Handle) ([]string, error) {
	workers, err := h.ListLiveWorkers(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var uris []string
	for _, w := range workers {
		for _, u := range w.LockURIs() {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			uris = append(uris, u)
		}
	}
	return uris, nil
}
