// Package checker implements the per-mode differ: it consumes the
// RemoteItem stream the Scanner(s) for one sync group produce,
// compares relative paths across the group's members, and emits
// TransferIntents onto the worker channel — after confirming neither
// side is already claimed in the lock registry.
package checker

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alist-sync/alist-sync-go/internal/blacklist"
	"github.com/alist-sync/alist-sync-go/internal/lockregistry"
	"github.com/alist-sync/alist-sync-go/internal/metrics"
	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/pathclient"
	"github.com/alist-sync/alist-sync-go/internal/scanner"
	"github.com/alist-sync/alist-sync-go/internal/store"
)

// Checker differs one sync group's members and emits TransferIntents.
type Checker struct {
	group      *model.SyncGroup
	servers    *pathclient.Registry
	handle     store.Handle
	locks      *lockregistry.Registry
	blacklist  *blacklist.Matcher
	poolSize   int
	owner      string
	dryRun     bool
	onDispatch func(*model.TransferIntent)
	out        chan<- *model.TransferIntent
	log        zerolog.Logger
}

// Options configures New.
type Options struct {
	Group     *model.SyncGroup
	Servers   *pathclient.Registry
	Handle    store.Handle
	Locks     *lockregistry.Registry
	Blacklist *blacklist.Matcher
	PoolSize  int
	Owner     string
	// DryRun is set by the scheduler's check mode: intents are still
	// computed and emitted for reporting, but never
	// claimed in the lock registry or persisted, and no worker ever
	// executes them.
	DryRun bool
	// OnDispatch, if set, is called once per intent that was actually
	// claimed and persisted (never in DryRun mode), so the scheduler
	// can track how much work is in flight for this group's pass.
	OnDispatch func(*model.TransferIntent)
	Out        chan<- *model.TransferIntent
	Log        zerolog.Logger
}

// New builds a Checker for one sync group.
func New(opts Options) *Checker {
	return &Checker{
		group:      opts.Group,
		servers:    opts.Servers,
		handle:     opts.Handle,
		locks:      opts.Locks,
		blacklist:  opts.Blacklist,
		poolSize:   opts.PoolSize,
		owner:      opts.Owner,
		dryRun:     opts.DryRun,
		onDispatch: opts.OnDispatch,
		out:        opts.Out,
		log:        opts.Log,
	}
}

// view indexes a relative path's RemoteItem per member root.
type view map[string]map[string]*model.RemoteItem

// Run drains in until it closes (one completed scan pass across every
// member), computes the group's mode-specific difference, and emits
// the resulting TransferIntents. It returns when ctx is canceled or
// the diff has been fully emitted.
func (c *Checker) Run(ctx context.Context, in <-chan *scanner.Result) error {
	v := make(view)

	for {
		select {
		case res, ok := <-in:
			if !ok {
				return c.diff(ctx, v)
			}
			rel := c.relative(res.Root, res.Item.URI)
			if v[rel] == nil {
				v[rel] = make(map[string]*model.RemoteItem)
			}
			v[rel][res.Root] = res.Item
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Checker) diff(ctx context.Context, v view) error {
	switch c.group.Mode {
	case model.ModeCopy:
		return c.diffCopy(ctx, v)
	case model.ModeMirror:
		return c.diffMirror(ctx, v)
	case model.ModeSync, model.ModeSyncIncr:
		return c.diffSync(ctx, v)
	default:
		return nil
	}
}

// split finds the member root that uri falls under and its relative
// path under that root.
func (c *Checker) split(uri string) (root, rel string, ok bool) {
	for _, m := range c.group.Members {
		if uri == m {
			return m, "", true
		}
		if strings.HasPrefix(uri, strings.TrimSuffix(m, "/")+"/") {
			return m, strings.TrimPrefix(uri, strings.TrimSuffix(m, "/")+"/"), true
		}
	}
	return "", "", false
}

func (c *Checker) relative(root, uri string) string {
	rel := strings.TrimPrefix(uri, root)
	return strings.TrimPrefix(rel, "/")
}

func joinURI(root, rel string) string {
	root = strings.TrimSuffix(root, "/")
	if rel == "" {
		return root
	}
	return root + "/" + rel
}

// unchanged consults the item metadata cache so every mode skips a
// path whose (size, mtime, hash-if-present) already matches the last
// recorded snapshot.
func (c *Checker) unchanged(ctx context.Context, item *model.RemoteItem) bool {
	cached, ok, err := c.handle.GetCachedItem(ctx, item.URI)
	if err != nil || !ok {
		return false
	}
	return cached.Unchanged(item)
}

// rememberCache writes item through to the metadata cache once a path
// is known to need no work, so the next cycle's unchanged() check can
// skip it. A live run always writes; check mode only does when the
// group opts in via check_populates_cache.
// It is never called for a path that just had an intent emitted — the
// transfer could still fail, and a premature cache entry would mask
// the re-derivation the next scan is supposed to do.
func (c *Checker) rememberCache(ctx context.Context, item *model.RemoteItem) {
	if c.dryRun && !c.group.CheckPopulatesCache {
		return
	}
	_ = c.handle.PutCachedItem(ctx, item)
}

// emitCopy builds and dispatches a copy intent for source → targetURI,
// subject to the lock registry; dropped silently if either URI is
// already claimed.
func (c *Checker) emitCopy(ctx context.Context, source *model.RemoteItem, targetRoot, targetRel string) {
	targetURI := joinURI(targetRoot, targetRel)
	now := time.Now()

	needBackup := c.group.NeedBackup
	backupURI := ""
	if needBackup {
		backupURI = c.group.BackupDirFor(targetRoot)
	}

	w := model.NewCopyIntent(c.group.Name, source, targetURI, needBackup, backupURI, c.owner, now)
	w.BackupRetentionDays = c.group.BackupRetentionDays
	c.dispatch(ctx, w)
}

// emitDelete builds and dispatches a delete intent for targetURI.
func (c *Checker) emitDelete(ctx context.Context, targetRoot, targetRel string) {
	targetURI := joinURI(targetRoot, targetRel)
	now := time.Now()

	backupURI := ""
	if c.group.NeedBackup {
		backupURI = c.group.BackupDirFor(targetRoot)
	}

	w := model.NewDeleteIntent(c.group.Name, targetURI, c.group.NeedBackup, backupURI, c.owner, now)
	w.BackupRetentionDays = c.group.BackupRetentionDays
	c.dispatch(ctx, w)
}

func (c *Checker) dispatch(ctx context.Context, w *model.TransferIntent) {
	if c.dryRun {
		select {
		case c.out <- w:
		case <-ctx.Done():
		}
		return
	}

	if !c.locks.TryClaim(w.ID, w.LockURIs()...) {
		c.log.Debug().Str("target", w.TargetURI).Msg("checker: lock conflict, dropping intent for this cycle")
		return
	}
	if err := c.handle.SaveWorker(ctx, w); err != nil {
		c.log.Warn().Err(err).Str("id", w.ID).Msg("checker: failed to persist new worker, dropping")
		c.locks.Release(w.LockURIs()...)
		return
	}
	metrics.LockedURIs.WithLabelValues(w.GroupName).Set(float64(c.locks.Len()))
	if c.onDispatch != nil {
		c.onDispatch(w)
	}

	select {
	case c.out <- w:
	case <-ctx.Done():
	}
}
