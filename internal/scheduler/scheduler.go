// Package scheduler orchestrates the engine: it owns a lock registry
// for each configured sync group and drives each enabled group's
// Scanner(s) and Checker against the one Worker Pool shared by every
// group for the life of the process. It supports daemon, one-shot, and
// check (dry-run) modes; a one-shot run tallies a RunSummary per group
// at the end of its pass, while daemon passes produce no summary.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alist-sync/alist-sync-go/internal/config"
	"github.com/alist-sync/alist-sync-go/internal/constants"
	"github.com/alist-sync/alist-sync-go/internal/lockregistry"
	"github.com/alist-sync/alist-sync-go/internal/logging"
	"github.com/alist-sync/alist-sync-go/internal/metrics"
	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/notify"
	"github.com/alist-sync/alist-sync-go/internal/pathclient"
	"github.com/alist-sync/alist-sync-go/internal/store"
	"github.com/alist-sync/alist-sync-go/internal/tempfile"
	"github.com/alist-sync/alist-sync-go/internal/worker"
)

// Scheduler owns the process-wide shared Worker Pool and one lock
// registry per configured sync group, and drives scans against the
// config's groups in daemon, one-shot, or check mode.
type Scheduler struct {
	cfg       *config.Config
	servers   *pathclient.Registry
	handle    store.Handle
	tempFiles *tempfile.Registry
	notifier  notify.Notifier
	owner     string
	debug     bool

	pool     *worker.Pool
	workerCh chan *model.TransferIntent
	locksMu  sync.Mutex
	locks    map[string]*lockregistry.Registry
	tally    *tallyBoard

	log zerolog.Logger
}

// Options configures New.
type Options struct {
	Config    *config.Config
	Servers   *pathclient.Registry
	Handle    store.Handle
	TempFiles *tempfile.Registry
	Notifier  notify.Notifier
	Debug     bool
}

// New builds a Scheduler: it loads every currently live (non-terminal)
// worker from the Persistence Handle, seeds one lock registry per
// sync group from them, and seeds the shared Worker Pool with those
// same workers so a crash mid-transfer resumes from its last
// persisted status rather than waiting for the next scan to re-derive
// it.
func New(ctx context.Context, opts Options) (*Scheduler, error) {
	log := logging.WithComponent("scheduler")

	live, err := opts.Handle.ListLiveWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load live workers: %w", err)
	}

	locks := make(map[string]*lockregistry.Registry, len(opts.Config.SyncGroups))
	byGroup := make(map[string][]string)
	for _, w := range live {
		byGroup[w.GroupName] = append(byGroup[w.GroupName], w.LockURIs()...)
	}
	for _, g := range opts.Config.SyncGroups {
		locks[g.Name] = lockregistry.Seed(byGroup[g.Name])
	}

	tally := newTallyBoard()

	concurrency := constants.DefaultWorkerPoolSize
	if opts.Debug {
		concurrency = 1
	}

	workerCh := make(chan *model.TransferIntent, constants.CheckerChannelSize)
	pool := worker.New(worker.Options{
		Servers:     opts.Servers,
		Handle:      opts.Handle,
		Locks:       locks,
		TempFiles:   opts.TempFiles,
		Notifier:    opts.Notifier,
		Concurrency: concurrency,
		Log:         logging.WithComponent("worker"),
		OnComplete:  tally.onComplete,
	})
	pool.Seed(live)
	// Seeded workers will report through tally.onComplete like any
	// other, so they must be counted as in flight up front or the
	// group's inflight count would go negative as they finish.
	for _, w := range live {
		tally.dispatchHook(w.GroupName)(w)
	}

	return &Scheduler{
		cfg:       opts.Config,
		servers:   opts.Servers,
		handle:    opts.Handle,
		tempFiles: opts.TempFiles,
		notifier:  opts.Notifier,
		owner:     opts.Config.Name,
		debug:     opts.Debug,
		pool:      pool,
		workerCh:  workerCh,
		locks:     locks,
		tally:     tally,
		log:       log,
	}, nil
}

// locksFor returns the lock registry owned by the named group,
// creating one lazily if the group was added after New ran (e.g. a
// config reload — not wired to any command yet, but the map access
// must still be race-free since the pool's finalize step reads it
// concurrently from worker goroutines).
func (s *Scheduler) locksFor(name string) *lockregistry.Registry {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	r, ok := s.locks[name]
	if !ok {
		r = lockregistry.New()
		s.locks[name] = r
	}
	return r
}

func (s *Scheduler) enabledGroups() []*model.SyncGroup {
	out := make([]*model.SyncGroup, 0, len(s.cfg.SyncGroups))
	for i := range s.cfg.SyncGroups {
		g := &s.cfg.SyncGroups[i]
		if g.Enable {
			out = append(out, g)
		}
	}
	return out
}

func (s *Scheduler) groupInterval(g *model.SyncGroup) time.Duration {
	if g.IntervalSeconds <= 0 {
		return constants.DefaultGroupInterval
	}
	return time.Duration(g.IntervalSeconds) * time.Second
}

// runPool starts the shared Worker Pool draining s.workerCh. It must
// be running before any group's Checker starts emitting onto that
// channel, and is stopped by canceling ctx.
func (s *Scheduler) runPool(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.pool.Run(ctx, s.workerCh) }()
	return done
}

// refreshLiveWorkerMetrics recomputes the LiveWorkers gauge from the
// Persistence Handle, the cheapest way to keep /metrics honest without
// threading a counter through every call site that mutates a worker
// record across two different storage backends.
func (s *Scheduler) refreshLiveWorkerMetrics(ctx context.Context) {
	live, err := s.handle.ListLiveWorkers(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("scheduler: failed to refresh live worker metrics")
		return
	}
	counts := make(map[[2]string]int)
	for _, w := range live {
		counts[[2]string{w.GroupName, w.Status.String()}]++
	}
	for key, n := range counts {
		metrics.LiveWorkers.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}

// grace is how long a one-shot run waits for the worker pool to drain
// after its last pass before giving up and exiting anyway, the
// config's timeout: setting.
func (s *Scheduler) grace() time.Duration {
	if s.cfg.TimeoutSeconds > 0 {
		return time.Duration(s.cfg.TimeoutSeconds) * time.Second
	}
	return constants.DefaultOneShotGracePeriod
}
