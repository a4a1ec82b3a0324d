package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alist-sync/alist-sync-go/internal/metrics"
	"github.com/alist-sync/alist-sync-go/internal/model"
)

// groupTally accumulates one sync group's pass results. inflight is
// incremented by the checker's OnDispatch hook and decremented by the
// pool's OnComplete hook, so waitIdle can tell when a pass has
// finished draining without either component knowing about the other.
type groupTally struct {
	copied   int64
	deleted  int64
	failed   int64
	bytes    int64
	inflight int64
	start    time.Time
}

// tallyBoard is the mutex-guarded map of per-group tallies backing
// every Scheduler's RunSummary accounting.
type tallyBoard struct {
	mu     sync.Mutex
	groups map[string]*groupTally
}

func newTallyBoard() *tallyBoard {
	return &tallyBoard{groups: make(map[string]*groupTally)}
}

func (b *tallyBoard) get(group string) *groupTally {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[group]
	if !ok {
		g = &groupTally{}
		b.groups[group] = g
	}
	return g
}

// dispatchHook returns an OnDispatch callback bound to one group.
func (b *tallyBoard) dispatchHook(group string) func(*model.TransferIntent) {
	g := b.get(group)
	return func(*model.TransferIntent) {
		atomic.AddInt64(&g.inflight, 1)
	}
}

// onComplete is passed to worker.Options.OnComplete.
func (b *tallyBoard) onComplete(entry *model.CompletedLog) {
	g := b.get(entry.GroupName)
	atomic.AddInt64(&g.inflight, -1)
	switch {
	case entry.Status == model.StatusFailed:
		atomic.AddInt64(&g.failed, 1)
		metrics.TransfersTotal.WithLabelValues(entry.GroupName, string(entry.Kind), "failed").Inc()
	case entry.Kind == model.KindDelete:
		atomic.AddInt64(&g.deleted, 1)
		metrics.TransfersTotal.WithLabelValues(entry.GroupName, string(entry.Kind), "done").Inc()
	default:
		atomic.AddInt64(&g.copied, 1)
		atomic.AddInt64(&g.bytes, entry.TransferredSize)
		metrics.TransfersTotal.WithLabelValues(entry.GroupName, string(entry.Kind), "done").Inc()
		metrics.BytesTransferred.WithLabelValues(entry.GroupName).Add(float64(entry.TransferredSize))
	}
}

// beginPass marks the start time for a fresh pass over group, for the
// RunSummary's Duration field.
func (b *tallyBoard) beginPass(group string) {
	b.get(group).start = time.Now()
}

// inflight reports how many dispatched-but-not-yet-terminal workers
// remain for group.
func (b *tallyBoard) inflight(group string) int64 {
	return atomic.LoadInt64(&b.get(group).inflight)
}

// snapshotAndReset returns group's accumulated counts as a RunSummary
// and zeroes the counters (inflight is left untouched — it reflects
// work still in flight across passes, not per-pass results).
func (b *tallyBoard) snapshotAndReset(group string) RunSummary {
	g := b.get(group)
	return RunSummary{
		Group:            group,
		Copied:           int(atomic.SwapInt64(&g.copied, 0)),
		Deleted:          int(atomic.SwapInt64(&g.deleted, 0)),
		Failed:           int(atomic.SwapInt64(&g.failed, 0)),
		BytesTransferred: atomic.SwapInt64(&g.bytes, 0),
		Duration:         time.Since(g.start),
	}
}
