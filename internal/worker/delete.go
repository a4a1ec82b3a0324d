package worker

import (
	"context"

	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/synerr"
)

// doDelete removes the target directly (after any backup already ran
// in stepInit). Deleted shares its priority value with Copied — both
// mean "the destructive or constructive action is done, recheck is
// all that remains."
func (p *Pool) doDelete(ctx context.Context, w *model.TransferIntent) {
	target, ok := p.servers.ForURI(w.TargetURI)
	if !ok {
		markFailed(w, synerr.KindConfig, "resolve target server", errNoServer(w.TargetURI))
		return
	}
	if err := target.Remove(ctx, w.TargetURI); err != nil {
		markFailed(w, synerr.KindUpstream, "delete", err)
		return
	}
	w.Status = model.StatusDeleted
}
