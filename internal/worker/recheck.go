package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alist-sync/alist-sync-go/internal/constants"
	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/pathclient"
	"github.com/alist-sync/alist-sync-go/internal/synerr"
)

// doRecheck is the post-transfer verification step: for a copy, it
// first confirms the upstream has actually moved the bytes to backend
// storage (the upload task is no longer in task_undone) before
// trusting a stat; for a delete, it simply confirms the target is
// gone. Either way it verifies size only, never content hashes. It
// reports true when the upload task was still in flight and w was
// rescheduled for a later recheck.
func (p *Pool) doRecheck(ctx context.Context, w *model.TransferIntent) (requeued bool) {
	target, ok := p.servers.ForURI(w.TargetURI)
	if !ok {
		markFailed(w, synerr.KindConfig, "resolve target server", errNoServer(w.TargetURI))
		return false
	}

	if w.Kind == model.KindDelete {
		p.recheckDelete(ctx, w, target)
		return false
	}
	return p.recheckCopy(ctx, w, target)
}

// recheckCopy waits for the upload's async task to leave task_undone
// before trusting a stat, then confirms size equality.
func (p *Pool) recheckCopy(ctx context.Context, w *model.TransferIntent, target *pathclient.Client) bool {
	if w.UploadTaskID != "" {
		undone, err := target.TaskUndone(ctx, "upload")
		if err != nil {
			markFailed(w, synerr.KindRecheck, "task_undone", err)
			return false
		}
		for _, t := range undone {
			if t.ID == w.UploadTaskID {
				p.requeueAfter(ctx, w, requeueDelay)
				return true
			}
		}
	}

	item, err := statWithRetries(ctx, target, w.TargetURI)
	if err != nil {
		markFailed(w, synerr.KindRecheck, "recheck stat", err)
		return false
	}
	if item.Size != w.SourceSize {
		markFailed(w, synerr.KindRecheck, "recheck",
			fmt.Errorf("target size %d does not match source size %d", item.Size, w.SourceSize))
		return false
	}
	w.MarkDone(time.Now())
	return false
}

// recheckDelete confirms the target is actually gone.
func (p *Pool) recheckDelete(ctx context.Context, w *model.TransferIntent, target *pathclient.Client) {
	_, err := statWithRetries(ctx, target, w.TargetURI)
	if err == nil {
		markFailed(w, synerr.KindRecheck, "recheck",
			fmt.Errorf("target %s still present after delete", w.TargetURI))
		return
	}
	if !errors.Is(err, pathclient.ErrNotFound) {
		markFailed(w, synerr.KindRecheck, "recheck stat", err)
		return
	}
	w.MarkDone(time.Now())
}

// statWithRetries re-stats path up to constants.RecheckStatRetries
// times, the way an upstream that just finished an async task may take
// a beat to reflect it in its own listing/stat cache. A definitive
// ErrNotFound is returned immediately rather than retried blindly,
// since recheckDelete relies on distinguishing "not found" from a
// transient upstream error.
func statWithRetries(ctx context.Context, client *pathclient.Client, path string) (*model.RemoteItem, error) {
	var lastErr error
	for attempt := 0; attempt <= constants.RecheckStatRetries; attempt++ {
		item, err := client.Stat(ctx, path)
		if err == nil {
			return item, nil
		}
		if errors.Is(err, pathclient.ErrNotFound) {
			return nil, err
		}
		lastErr = err
		if attempt < constants.RecheckStatRetries {
			select {
			case <-time.After(constants.RecheckStatRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}
