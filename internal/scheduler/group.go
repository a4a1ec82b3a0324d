package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alist-sync/alist-sync-go/internal/blacklist"
	"github.com/alist-sync/alist-sync-go/internal/checker"
	"github.com/alist-sync/alist-sync-go/internal/constants"
	"github.com/alist-sync/alist-sync-go/internal/logging"
	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/scanner"
)

// idlePollInterval is how often waitIdle rechecks a group's inflight
// count while a pass drains.
const idlePollInterval = 250 * time.Millisecond

// scanRoots returns the member roots a pass over group must scan. For
// copy and mirror only members[0] is walked here: copy probes targets
// with per-path stats, and mirror's checker enumerates each target
// itself while hunting extras, so feeding target listings into the
// shared view would only double the upstream traffic. sync/sync-incr
// walk every member since any of them can originate a change.
func scanRoots(group *model.SyncGroup) []string {
	switch group.Mode {
	case model.ModeCopy, model.ModeMirror:
		return group.Members[:1]
	default:
		return group.Members
	}
}

// runScan drives one Scanner per member root concurrently, feeding
// every result into a single Checker, and returns once the Checker has
// consumed every result and finished emitting its diff (or ctx is
// canceled). out receives every TransferIntent the Checker dispatches;
// it is the scheduler's shared s.workerCh for a live pass, or a
// throwaway channel collected into a report for check mode.
func (s *Scheduler) runScan(ctx context.Context, group *model.SyncGroup, out chan<- *model.TransferIntent, dryRun bool) error {
	log := logging.WithGroup(s.log, group.Name)

	matcher := blacklist.Compile(group.Blacklist, group.Whitelist)
	roots := scanRoots(group)

	scanCh := make(chan *scanner.Result, constants.ScannerChannelSize)

	var wg sync.WaitGroup
	scanErrs := make([]error, len(roots))
	for i, root := range roots {
		client, ok := s.servers.ForURI(root)
		if !ok {
			scanErrs[i] = fmt.Errorf("no server registered for member %q", root)
			continue
		}
		sc := scanner.New(scanner.Options{
			Client:    client,
			Root:      root,
			Blacklist: matcher,
			Out:       scanCh,
			Log:       logging.WithComponent("scanner"),
		})
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := sc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				scanErrs[i] = err
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(scanCh)
	}()

	var onDispatch func(*model.TransferIntent)
	if !dryRun {
		onDispatch = s.tally.dispatchHook(group.Name)
	}

	c := checker.New(checker.Options{
		Group:      group,
		Servers:    s.servers,
		Handle:     s.handle,
		Locks:      s.locksFor(group.Name),
		Blacklist:  matcher,
		Owner:      s.owner,
		DryRun:     dryRun,
		OnDispatch: onDispatch,
		Out:        out,
		Log:        logging.WithComponent("checker"),
	})

	checkErr := c.Run(ctx, scanCh)

	for _, err := range scanErrs {
		if err != nil {
			log.Warn().Err(err).Msg("scheduler: scan root failed")
		}
	}

	if checkErr != nil && !errors.Is(checkErr, context.Canceled) {
		return fmt.Errorf("scheduler: checker for group %q: %w", group.Name, checkErr)
	}
	return nil
}

// waitIdle blocks until every intent runScan dispatched for group has
// reached a terminal state, or ctx is canceled. RunOnce calls this
// before reporting a group's RunSummary so its counts reflect
// the whole pass rather than whatever had finished by the time the
// checker stopped emitting.
func (s *Scheduler) waitIdle(ctx context.Context, group string) error {
	if s.tally.inflight(group) <= 0 {
		return nil
	}
	t := time.NewTicker(idlePollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if s.tally.inflight(group) <= 0 {
				return nil
			}
		}
	}
}
