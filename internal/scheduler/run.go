package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

// RunOnce scans and diffs every enabled sync group exactly once,
// dispatching the resulting TransferIntents onto the shared Worker
// Pool, and returns a RunSummary per group once every intent it
// dispatched has reached a terminal state. It starts and stops the
// Worker Pool itself, so the caller needs nothing running beforehand.
func (s *Scheduler) RunOnce(ctx context.Context) (map[string]RunSummary, error) {
	poolCtx, stopPool := context.WithCancel(ctx)
	poolDone := s.runPool(poolCtx)
	defer func() {
		stopPool()
		// Bounded by the configured grace period so a wedged upstream
		// call can't hold a one-shot run open forever.
		select {
		case <-poolDone:
		case <-time.After(s.grace()):
			s.log.Warn().Msg("scheduler: worker pool did not drain within the grace period, exiting anyway")
		}
	}()

	groups := s.enabledGroups()
	summaries := make(map[string]RunSummary, len(groups))

	for _, g := range groups {
		s.tally.beginPass(g.Name)
		s.log.Info().Str("group", g.Name).Msg("scheduler: starting pass")

		if err := s.runScan(ctx, g, s.workerCh, false); err != nil {
			return summaries, err
		}
		if err := s.waitIdle(ctx, g.Name); err != nil {
			return summaries, err
		}

		summary := s.tally.snapshotAndReset(g.Name)
		summaries[g.Name] = summary
		s.log.Info().Str("group", g.Name).Msg(summary.String())
		s.refreshLiveWorkerMetrics(ctx)
	}

	return summaries, nil
}

// RunDaemon runs scan passes repeatedly, one cadence per sync group:
// a group whose own interval has not yet elapsed since its last
// pass is skipped, so groups with different interval: settings each
// run on their own schedule inside one shared loop. It blocks until
// ctx is canceled.
func (s *Scheduler) RunDaemon(ctx context.Context) error {
	poolDone := s.runPool(ctx)
	go s.tempFiles.WatchPressure(ctx, time.Minute)

	next := make(map[string]time.Time)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-poolDone
			return ctx.Err()
		case <-ticker.C:
			now := nowFunc()
			for _, g := range s.enabledGroups() {
				if due, ok := next[g.Name]; ok && now.Before(due) {
					continue
				}
				s.tally.beginPass(g.Name)
				if err := s.runScan(ctx, g, s.workerCh, false); err != nil {
					s.log.Warn().Err(err).Str("group", g.Name).Msg("scheduler: pass failed")
				}
				next[g.Name] = now.Add(s.groupInterval(g))
			}
			s.refreshLiveWorkerMetrics(ctx)
		}
	}
}

// nowFunc is a seam for deterministic tests; production always uses
// time.Now.
var nowFunc = time.Now

// CheckRow is one line of a check-mode report: a single TransferIntent
// that would have been dispatched, annotated with its sync group.
type CheckRow struct {
	Group     string
	Kind      model.IntentKind
	SourceURI string
	TargetURI string
	Size      int64
}

// RunCheck scans and diffs every enabled sync group exactly once
// without claiming locks, persisting workers, or touching the Worker
// Pool (checker.Options.DryRun), and returns every intent that would
// have been dispatched. The scheduler's crash-recovered live workers
// and their locks are untouched by this path.
func (s *Scheduler) RunCheck(ctx context.Context) ([]CheckRow, error) {
	out := make(chan *model.TransferIntent, 64)
	rows := make([]CheckRow, 0, 64)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for w := range out {
			rows = append(rows, CheckRow{
				Group:     w.GroupName,
				Kind:      w.Kind,
				SourceURI: w.SourceURI,
				TargetURI: w.TargetURI,
				Size:      w.SourceSize,
			})
		}
	}()

	var firstErr error
	for _, g := range s.enabledGroups() {
		if err := s.runScan(ctx, g, out, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	close(out)
	<-collected

	return rows, firstErr
}

// WriteCheckReport renders rows as an aligned plain-text table
// (group, action, source, target, size), the way a terminal command's
// --dry-run output is normally read by a human rather than parsed.
func WriteCheckReport(w io.Writer, rows []CheckRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tACTION\tSOURCE\tTARGET\tSIZE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.Group, r.Kind, r.SourceURI, r.TargetURI, r.Size)
	}
	return tw.Flush()
}

// PrintCheckReport writes a report to stdout, the convenience entry
// point cmd/alist-sync's check command calls.
func PrintCheckReport(rows []CheckRow) error {
	return WriteCheckReport(os.Stdout, rows)
}
