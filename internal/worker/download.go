package worker

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/synerr"
	"github.com/alist-sync/alist-sync-go/internal/tempfile"
)

// doDownload stages the source file's bytes into the Temp-File
// Registry's cache directory, gated by an independent download
// semaphore so a burst of downloads can't starve uploads of
// connection slots on a shared server. It reports true
// when the watermark back-pressure made it reschedule w instead of
// downloading.
func (p *Pool) doDownload(ctx context.Context, w *model.TransferIntent) (requeued bool) {
	source, ok := p.servers.ForURI(w.SourceURI)
	if !ok {
		markFailed(w, synerr.KindConfig, "resolve source server", errNoServer(w.SourceURI))
		return false
	}

	rec, err := p.tempFiles.Reserve(ctx, w.SourceURI, w.SourceSize)
	if err != nil {
		if errors.Is(err, tempfile.ErrWatermarkExceeded) {
			p.requeueAfter(ctx, w, requeueDelay)
			return true
		}
		markFailed(w, synerr.KindDownloader, "reserve temp file", err)
		return false
	}

	select {
	case p.downloadSem <- struct{}{}:
	case <-ctx.Done():
		_ = p.tempFiles.Clear(rec.LocalPath)
		return false
	}
	defer func() { <-p.downloadSem }()

	body, _, err := source.Open(ctx, w.SourceURI)
	if err != nil {
		_ = p.tempFiles.Clear(rec.LocalPath)
		markFailed(w, synerr.KindDownloader, "open source", err)
		return false
	}
	defer body.Close()

	out, err := os.OpenFile(rec.LocalPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		_ = p.tempFiles.Clear(rec.LocalPath)
		markFailed(w, synerr.KindDownloader, "create temp file", err)
		return false
	}

	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		_ = p.tempFiles.Clear(rec.LocalPath)
		markFailed(w, synerr.KindDownloader, "stage download", err)
		return false
	}
	if err := out.Sync(); err != nil {
		out.Close()
		_ = p.tempFiles.Clear(rec.LocalPath)
		markFailed(w, synerr.KindDownloader, "sync temp file", err)
		return false
	}
	if err := out.Close(); err != nil {
		_ = p.tempFiles.Clear(rec.LocalPath)
		markFailed(w, synerr.KindDownloader, "close temp file", err)
		return false
	}

	w.LocalTempPath = rec.LocalPath
	w.Status = model.StatusDownloaded
	return false
}
