package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// IntentKind names the kind of action a TransferIntent performs.
type IntentKind string

const (
	KindCopy   IntentKind = "copy"
	KindDelete IntentKind = "delete"
)

// Status is one step in the worker state machine. The numeric value is
// its scheduling priority: lower runs first, so work that is nearly
// complete finishes before new work starts and the live temp-file
// footprint stays bounded.
type Status int

const (
	StatusDone       Status = 0
	StatusFailed     Status = 1
	StatusCopied     Status = 2
	StatusDeleted    Status = 2
	StatusUploaded   Status = 3
	StatusDownloaded Status = 5
	StatusBackedUp   Status = 8
	StatusInit       Status = 9
)

// String renders the status the way it is spelled in logs and
// persisted history.
func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusCopied: // == StatusDeleted, disambiguated by the intent's Kind
		return "copied/deleted"
	case StatusUploaded:
		return "uploaded"
	case StatusDownloaded:
		return "downloaded"
	case StatusBackedUp:
		return "back-upped"
	case StatusInit:
		return "init"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether s is one of the two terminal states.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// TransferIntent is a persisted record describing one file-level action
// and its current position in the worker state machine. Its fields are
// mutated only by the worker-pool goroutine executing it, never by a
// second writer touching the same paths concurrently — the lock
// registry (internal/lockregistry) is what prevents that.
type TransferIntent struct {
	ID         string     `json:"id" bson:"id"`
	Kind       IntentKind `json:"kind" bson:"kind"`
	SourceURI  string     `json:"source_uri,omitempty" bson:"source_uri,omitempty"`
	TargetURI  string     `json:"target_uri" bson:"target_uri"`
	BackupURI  string     `json:"backup_uri,omitempty" bson:"backup_uri,omitempty"`
	NeedBackup bool       `json:"need_backup" bson:"need_backup"`
	GroupName  string     `json:"group_name" bson:"group_name"`
	Status     Status     `json:"status" bson:"status"`
	Error      string     `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
	DoneAt     time.Time  `json:"done_at,omitempty" bson:"done_at,omitempty"`
	Owner      string     `json:"owner" bson:"owner"`

	// SourceSize/SourceMtime are captured at intent-creation time so the
	// worker can verify transfers without re-statting the source, which
	// may have changed or vanished mid-transfer.
	SourceSize  int64     `json:"source_size,omitempty" bson:"source_size,omitempty"`
	SourceMtime time.Time `json:"source_mtime,omitempty" bson:"source_mtime,omitempty"`

	// BackupRetentionDays carries the owning group's retention window so
	// the backup step can purge expired history entries lazily without a
	// lookup back into group config. Zero keeps backups forever.
	BackupRetentionDays int `json:"backup_retention_days,omitempty" bson:"backup_retention_days,omitempty"`

	// UploadTaskID is the upstream async task id returned by PUT, used
	// by the recheck step to poll task_undone before trusting a stat.
	UploadTaskID string `json:"upload_task_id,omitempty" bson:"upload_task_id,omitempty"`

	// LocalTempPath is set once a download-then-upload transfer has
	// staged bytes locally (internal/tempfile).
	LocalTempPath string `json:"local_temp_path,omitempty" bson:"local_temp_path,omitempty"`
}

// NewIntentID computes a content-addressed id from
// hash(kind ∥ source ∥ created_at). created_at is hashed at nanosecond
// precision, so ids collide only for the same kind and source at the
// identical instant; an intent re-derived in a later scan cycle gets a
// new id, and it is the lock registry's URI check, not the id, that
// keeps two live intents off the same path.
func NewIntentID(kind IntentKind, sourceURI string, createdAt time.Time) string {
	h := sha1.New()
	h.Write([]byte(string(kind)))
	h.Write([]byte{0})
	h.Write([]byte(sourceURI))
	h.Write([]byte{0})
	h.Write([]byte(createdAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// NewCopyIntent builds an init-state copy TransferIntent.
func NewCopyIntent(group string, source *RemoteItem, targetURI string, needBackup bool, backupURI, owner string, now time.Time) *TransferIntent {
	return &TransferIntent{
		ID:          NewIntentID(KindCopy, source.URI, now),
		Kind:        KindCopy,
		SourceURI:   source.URI,
		TargetURI:   targetURI,
		BackupURI:   backupURI,
		NeedBackup:  needBackup,
		GroupName:   group,
		Status:      StatusInit,
		CreatedAt:   now,
		Owner:       owner,
		SourceSize:  source.Size,
		SourceMtime: source.Mtime,
	}
}

// NewDeleteIntent builds an init-state delete TransferIntent.
func NewDeleteIntent(group, targetURI string, needBackup bool, backupURI, owner string, now time.Time) *TransferIntent {
	return &TransferIntent{
		ID:         NewIntentID(KindDelete, targetURI, now),
		Kind:       KindDelete,
		TargetURI:  targetURI,
		BackupURI:  backupURI,
		NeedBackup: needBackup,
		GroupName:  group,
		Status:     StatusInit,
		CreatedAt:  now,
		Owner:      owner,
	}
}

// LockURIs returns the (possibly one-element) set of URIs this intent
// claims in the lock registry.
func (w *TransferIntent) LockURIs() []string {
	if w.SourceURI == "" {
		return []string{w.TargetURI}
	}
	return []string{w.SourceURI, w.TargetURI}
}

// MarkFailed transitions the intent to the terminal failed state,
// recording err and an end timestamp.
func (w *TransferIntent) MarkFailed(err error, now time.Time) {
	w.Status = StatusFailed
	if err != nil {
		w.Error = err.Error()
	}
	w.DoneAt = now
}

// MarkDone transitions the intent to the terminal done state.
func (w *TransferIntent) MarkDone(now time.Time) {
	w.Status = StatusDone
	w.DoneAt = now
}

// CompletedLog is the append-only record written once a Worker reaches
// a terminal state. It is never mutated after insert.
type CompletedLog struct {
	TransferIntent  `bson:",inline"`
	TransferredSize int64         `json:"transferred_size" bson:"transferred_size"`
	Duration        time.Duration `json:"duration" bson:"duration"`
}

// NewCompletedLog snapshots w into an immutable CompletedLog entry.
func NewCompletedLog(w *TransferIntent) *CompletedLog {
	return &CompletedLog{
		TransferIntent:  *w,
		TransferredSize: w.SourceSize,
		Duration:        w.DoneAt.Sub(w.CreatedAt),
	}
}
