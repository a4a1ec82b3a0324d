package worker

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/pathclient"
	"github.com/alist-sync/alist-sync-go/internal/synerr"
)

// doBackup relocates an existing target into the group's backup
// directory under a content-addressed name, then writes a JSON stat
// snapshot beside it. The upstream API only exposes a
// same-directory Rename and a keep-name Move, so this is two calls:
// Move the file into the backup directory under its original name,
// then Rename it there to its final hashed name.
func (p *Pool) doBackup(ctx context.Context, w *model.TransferIntent, target *pathclient.Client, existing *model.RemoteItem) {
	backupDir := w.BackupURI
	if backupDir == "" {
		markFailed(w, synerr.KindStatus, "backup", fmt.Errorf("need_backup set but no backup directory computed"))
		return
	}

	name := backupName(w.TargetURI, existing.Mtime)
	finalURI := backupDir + "/" + name
	jsonURI := finalURI + ".json"

	if _, err := target.Stat(ctx, finalURI); err == nil {
		markFailed(w, synerr.KindStatus, "backup", fmt.Errorf("backup entry %s already exists", finalURI))
		return
	}
	if _, err := target.Stat(ctx, jsonURI); err == nil {
		markFailed(w, synerr.KindStatus, "backup", fmt.Errorf("backup snapshot %s already exists", jsonURI))
		return
	}

	if err := target.Mkdir(ctx, backupDir); err != nil {
		markFailed(w, synerr.KindUpstream, "backup mkdir", err)
		return
	}

	srcDir, srcName := splitURI(w.TargetURI)
	if _, err := target.Move(ctx, srcDir, backupDir, []string{srcName}); err != nil {
		markFailed(w, synerr.KindUpstream, "backup move", err)
		return
	}
	if err := target.Rename(ctx, backupDir+"/"+srcName, name); err != nil {
		markFailed(w, synerr.KindUpstream, "backup rename", err)
		return
	}

	snapshot, err := json.Marshal(existing)
	if err != nil {
		markFailed(w, synerr.KindStatus, "backup snapshot encode", err)
		return
	}
	if _, err := target.Put(ctx, jsonURI, strings.NewReader(string(snapshot)), int64(len(snapshot)), time.Now()); err != nil {
		markFailed(w, synerr.KindUpload, "backup snapshot upload", err)
		return
	}

	p.purgeExpiredBackups(ctx, target, backupDir, w.BackupRetentionDays)

	w.Status = model.StatusBackedUp
}

// purgeExpiredBackups removes history entries (and their stat
// snapshots) older than the group's retention window, lazily after
// each successful backup rather than as a background sweep. A purge
// failure never fails the worker — the entries just survive until the
// next backup into the same directory.
func (p *Pool) purgeExpiredBackups(ctx context.Context, target *pathclient.Client, backupDir string, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	items, err := target.List(ctx, backupDir, false)
	if err != nil {
		p.log.Warn().Err(err).Str("dir", backupDir).Msg("worker: backup retention listing failed")
		return
	}

	byName := make(map[string]*model.RemoteItem, len(items))
	for _, item := range items {
		_, name := splitURI(item.URI)
		byName[name] = item
	}

	for _, item := range items {
		if item.IsDir {
			continue
		}
		_, name := splitURI(item.URI)
		if !strings.HasSuffix(name, ".history") {
			continue
		}

		takenAt := backupTakenAt(name, byName[name+".json"])
		if takenAt.IsZero() || !takenAt.Before(cutoff) {
			continue
		}

		if err := target.Remove(ctx, item.URI); err != nil {
			p.log.Warn().Err(err).Str("uri", item.URI).Msg("worker: failed to purge expired backup entry")
			continue
		}
		if _, ok := byName[name+".json"]; ok {
			if err := target.Remove(ctx, item.URI+".json"); err != nil {
				p.log.Warn().Err(err).Str("uri", item.URI+".json").Msg("worker: failed to purge expired backup snapshot")
			}
		}
	}
}

// backupTakenAt dates a history entry: the sibling snapshot's own
// mtime records when the backup was written (doBackup stamps it with
// the backup time, not the original file's), with the stamp embedded
// in the name as the fallback for an orphaned entry.
func backupTakenAt(historyName string, snapshot *model.RemoteItem) time.Time {
	if snapshot != nil && !snapshot.Mtime.IsZero() {
		return snapshot.Mtime
	}
	stem := strings.TrimSuffix(historyName, ".history")
	i := strings.LastIndexByte(stem, '_')
	if i < 0 {
		return time.Time{}
	}
	ts, err := strconv.ParseInt(stem[i+1:], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// backupName computes the content-addressed backup filename:
// sha1(target_uri) plus the backed-up file's own mtime (unix
// seconds), so two backups of the same target at different times
// never collide.
func backupName(targetURI string, mtime time.Time) string {
	h := sha1.Sum([]byte(targetURI))
	return hex.EncodeToString(h[:]) + "_" + strconv.FormatInt(mtime.Unix(), 10) + ".history"
}

// splitURI separates a path into its parent directory and base name.
func splitURI(uri string) (dir, name string) {
	i := strings.LastIndexByte(uri, '/')
	if i <= 0 {
		return "/", strings.TrimPrefix(uri, "/")
	}
	return uri[:i], uri[i+1:]
}
