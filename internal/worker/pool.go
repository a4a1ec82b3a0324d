// Package worker implements the per-TransferIntent state machine and
// the bounded worker pool that drives it: init → back-upped →
// {deleted | downloaded → uploaded → copied} → recheck → done|failed.
// One Pool is shared by every sync group for the life of the process,
// consuming a single worker channel rather than a pool per group.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alist-sync/alist-sync-go/internal/constants"
	"github.com/alist-sync/alist-sync-go/internal/lockregistry"
	"github.com/alist-sync/alist-sync-go/internal/logging"
	"github.com/alist-sync/alist-sync-go/internal/metrics"
	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/notify"
	"github.com/alist-sync/alist-sync-go/internal/pathclient"
	"github.com/alist-sync/alist-sync-go/internal/store"
	"github.com/alist-sync/alist-sync-go/internal/synerr"
	"github.com/alist-sync/alist-sync-go/internal/tempfile"
)

// requeueDelay is how long a worker that cannot make progress right
// now (back-pressure, an upstream task still in flight) waits before
// it is pushed back onto the queue at its current priority, rather
// than spinning.
const requeueDelay = 2 * time.Second

// Pool is the bounded pool of goroutines draining the priority Queue
// and advancing each TransferIntent one state-machine step at a time.
// It is stopped exactly once, by canceling the context passed to Run.
type Pool struct {
	servers     *pathclient.Registry
	handle      store.Handle
	locks       map[string]*lockregistry.Registry // group name -> its Registry
	tempFiles   *tempfile.Registry
	notifier    notify.Notifier
	onComplete  func(*model.CompletedLog)
	concurrency int
	downloadSem chan struct{}
	uploadSem   chan struct{}
	queue       *Queue
	log         zerolog.Logger

	wg sync.WaitGroup
}

// Options configures a Pool.
type Options struct {
	Servers     *pathclient.Registry
	Handle      store.Handle
	Locks       map[string]*lockregistry.Registry
	TempFiles   *tempfile.Registry
	Notifier    notify.Notifier
	Concurrency int
	DownloadMax int
	UploadMax   int
	// OnComplete, if set, is called once per worker reaching a terminal
	// state, after its CompletedLog entry has been appended — the
	// scheduler uses this to tally a RunSummary per sync group without
	// the pool itself (shared across every group for the process's
	// life) needing to know anything about groups.
	OnComplete func(*model.CompletedLog)
	Log        zerolog.Logger
}

// New builds a Pool. Run must be called to start it.
func New(opts Options) *Pool {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = constants.DefaultWorkerPoolSize
	}
	downloadMax := opts.DownloadMax
	if downloadMax <= 0 {
		downloadMax = concurrency
	}
	uploadMax := opts.UploadMax
	if uploadMax <= 0 {
		uploadMax = concurrency
	}

	return &Pool{
		servers:     opts.Servers,
		handle:      opts.Handle,
		locks:       opts.Locks,
		tempFiles:   opts.TempFiles,
		notifier:    opts.Notifier,
		onComplete:  opts.OnComplete,
		concurrency: concurrency,
		downloadSem: make(chan struct{}, downloadMax),
		uploadSem:   make(chan struct{}, uploadMax),
		queue:       NewQueue(),
		log:         opts.Log,
	}
}

// Seed pushes previously-persisted, non-terminal workers directly onto
// the priority queue, bypassing the channel Run drains. The scheduler
// calls this once at startup with every live worker record it found,
// so a crash mid-transfer resumes from the worker's last persisted
// status instead of waiting for the checker to re-derive it.
func (p *Pool) Seed(workers []*model.TransferIntent) {
	for _, w := range workers {
		p.queue.Push(w)
	}
}

// Run feeds in into the priority queue and starts concurrency workers
// draining it, each advancing one TransferIntent per step before
// requeueing it (unless it reached a terminal status). It blocks until
// ctx is canceled, then drains in-flight workers before returning.
func (p *Pool) Run(ctx context.Context, in <-chan *model.TransferIntent) error {
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		for {
			select {
			case w, ok := <-in:
				if !ok {
					return
				}
				p.queue.Push(w)
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}

	<-ctx.Done()
	<-feedDone
	p.queue.Close()
	p.wg.Wait()
	return ctx.Err()
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		w, ok := p.queue.Pop(ctx)
		if !ok {
			return
		}

		if ctx.Err() != nil {
			// Shutting down: leave w persisted at its current status so
			// the next run resumes it, instead of stepping it into a
			// spurious failure on a canceled context.
			if err := p.handle.SaveWorker(ctx, w); err != nil {
				p.log.Warn().Err(err).Str("id", w.ID).Msg("worker: failed to persist during shutdown")
			}
			continue
		}

		if requeued := p.step(ctx, w); requeued {
			// The step already persisted w and scheduled its delayed
			// re-push; pushing again here would busy-spin the pool on
			// work that cannot progress yet.
			continue
		}

		if w.Status.Terminal() {
			p.finalize(ctx, w)
			continue
		}

		if err := p.handle.SaveWorker(ctx, w); err != nil {
			p.log.Warn().Err(err).Str("id", w.ID).Msg("worker: failed to persist progress")
		}
		p.queue.Push(w)
	}
}

// requeueAfter persists w unchanged and pushes it back onto the queue
// after delay, used when a step cannot make progress yet (an async
// upstream task is still undone, or the temp-file watermark is
// exceeded) rather than busy-spinning the worker pool.
func (p *Pool) requeueAfter(ctx context.Context, w *model.TransferIntent, delay time.Duration) {
	if err := p.handle.SaveWorker(ctx, w); err != nil {
		p.log.Warn().Err(err).Str("id", w.ID).Msg("worker: failed to persist before requeue")
	}
	go func() {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		p.queue.Push(w)
	}()
}

func (p *Pool) finalize(ctx context.Context, w *model.TransferIntent) {
	wlog := logging.WithWorker(p.log, w.ID)
	entry := model.NewCompletedLog(w)
	if err := p.handle.AppendCompletedLog(ctx, entry); err != nil {
		wlog.Warn().Err(err).Msg("worker: failed to append completed log")
	}
	if err := p.handle.DeleteWorker(ctx, w.ID); err != nil {
		wlog.Warn().Err(err).Msg("worker: failed to delete worker record")
	}

	if locks, ok := p.locks[w.GroupName]; ok {
		locks.Release(w.LockURIs()...)
		metrics.LockedURIs.WithLabelValues(w.GroupName).Set(float64(locks.Len()))
	}

	if w.LocalTempPath != "" {
		if err := p.tempFiles.Clear(w.LocalTempPath); err != nil {
			wlog.Warn().Err(err).Msg("worker: failed to clear temp file")
		}
	}

	logEvt := wlog.Info()
	if w.Status == model.StatusFailed {
		logEvt = wlog.Warn()
	}
	logEvt.
		Str("group", w.GroupName).
		Str("kind", string(w.Kind)).
		Str("target", w.TargetURI).
		Str("status", w.Status.String()).
		Msg("worker: transfer finished")

	if p.notifier != nil && w.Status == model.StatusFailed {
		p.notifier.NotifyFailure(ctx, w)
	}

	if p.onComplete != nil {
		p.onComplete(entry)
	}
}

func markFailed(w *model.TransferIntent, kind synerr.Kind, op string, err error) {
	w.MarkFailed(synerr.New(kind, op, err), time.Now())
}
