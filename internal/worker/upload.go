package worker

import (
	"context"
	"fmt"
	"os"

	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/synerr"
)

// doUpload streams the staged local file to the target, gated by its
// own upload semaphore independent of doDownload's. On success the
// temp file's refcount is released so auto_clear may reclaim it under
// pressure; the file itself is left in place until recheck confirms
// the transfer or the worker fails — finalize is what clears it.
func (p *Pool) doUpload(ctx context.Context, w *model.TransferIntent) (requeued bool) {
	target, ok := p.servers.ForURI(w.TargetURI)
	if !ok {
		markFailed(w, synerr.KindConfig, "resolve target server", errNoServer(w.TargetURI))
		return false
	}

	f, err := os.Open(w.LocalTempPath)
	if err != nil {
		markFailed(w, synerr.KindUpload, "open staged file", err)
		return false
	}
	defer f.Close()

	if info, err := f.Stat(); err != nil {
		markFailed(w, synerr.KindUpload, "stat staged file", err)
		return false
	} else if info.Size() != w.SourceSize {
		markFailed(w, synerr.KindUpload, "stat staged file",
			fmt.Errorf("staged file size %d does not match source size %d", info.Size(), w.SourceSize))
		return false
	}

	select {
	case p.uploadSem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	defer func() { <-p.uploadSem }()

	taskID, err := target.Put(ctx, w.TargetURI, f, w.SourceSize, w.SourceMtime)
	if err != nil {
		markFailed(w, synerr.KindUpload, "put", err)
		return false
	}

	p.tempFiles.Release(w.LocalTempPath)
	w.UploadTaskID = taskID
	w.Status = model.StatusUploaded
	return false
}
