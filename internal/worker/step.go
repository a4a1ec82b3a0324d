package worker

import (
	"context"
	"fmt"

	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/synerr"
)

// step advances w by exactly one state-machine transition, chosen
// purely from (w.Kind, w.Status, w.NeedBackup). It
// returns true when the step could not make progress and has already
// rescheduled w itself via requeueAfter — the caller must not push w
// again in that case.
func (p *Pool) step(ctx context.Context, w *model.TransferIntent) (requeued bool) {
	switch w.Status {
	case model.StatusInit:
		return p.stepInit(ctx, w)
	case model.StatusBackedUp:
		return p.stepAfterBackup(ctx, w)
	case model.StatusDownloaded:
		return p.doUpload(ctx, w)
	case model.StatusUploaded:
		w.Status = model.StatusCopied
		return false
	case model.StatusCopied: // == StatusDeleted, disambiguated by Kind
		return p.doRecheck(ctx, w)
	default:
		markFailed(w, synerr.KindStatus, "step", fmt.Errorf("no transition defined for status %s", w.Status))
		return false
	}
}

// stepInit performs the cross-server rejection check (inter-server
// transfers are refused outright, and the worker — not the checker —
// is what enforces that), then either backs up an existing target or
// moves straight to the transfer/delete step when no backup is needed
// or nothing exists to back up yet.
func (p *Pool) stepInit(ctx context.Context, w *model.TransferIntent) bool {
	if w.Kind == model.KindCopy {
		src, srcOK := p.servers.ForURI(w.SourceURI)
		dst, dstOK := p.servers.ForURI(w.TargetURI)
		if !srcOK || !dstOK {
			markFailed(w, synerr.KindConfig, "resolve server", fmt.Errorf("no registered server for source or target"))
			return false
		}
		if src.ServerKey != dst.ServerKey {
			markFailed(w, synerr.KindStatus, "cross-server copy",
				fmt.Errorf("source %s and target %s live on different servers, rejected", w.SourceURI, w.TargetURI))
			return false
		}
	}

	if w.NeedBackup {
		target, ok := p.servers.ForURI(w.TargetURI)
		if !ok {
			markFailed(w, synerr.KindConfig, "resolve target server", fmt.Errorf("no registered server for %s", w.TargetURI))
			return false
		}
		existing, err := target.Stat(ctx, w.TargetURI)
		if err == nil {
			p.doBackup(ctx, w, target, existing)
			return false
		}
		// Target absent: nothing to back up, fall through to the
		// transfer/delete step exactly as stepAfterBackup would.
	}

	return p.stepAfterBackup(ctx, w)
}

func (p *Pool) stepAfterBackup(ctx context.Context, w *model.TransferIntent) bool {
	if w.Kind == model.KindDelete {
		p.doDelete(ctx, w)
		return false
	}
	return p.doDownload(ctx, w)
}
