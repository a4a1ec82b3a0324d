// Package scanner recursively enumerates one upstream mount root and
// emits every file it finds onto a bounded channel: a fixed goroutine
// pool draining a task channel, a sync.WaitGroup tracking in-flight
// directory listings, and context cancellation for graceful shutdown.
// Recursion over an upstream API tree has no filepath.WalkDir to lean
// on, which is why completion is detected by the in-flight counter
// draining to zero.
package scanner

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/alist-sync/alist-sync-go/internal/blacklist"
	"github.com/alist-sync/alist-sync-go/internal/constants"
	"github.com/alist-sync/alist-sync-go/internal/metrics"
	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/pathclient"
	"github.com/alist-sync/alist-sync-go/internal/synerr"
)

// Result is one file emitted by a Scanner, tagged with the member root
// it was found under so the Checker's split() helper can recover the
// relative path without re-deriving it.
type Result struct {
	Item *model.RemoteItem
	Root string
}

// Scanner walks one member root on one upstream server.
type Scanner struct {
	client    *pathclient.Client
	root      string
	blacklist *blacklist.Matcher
	poolSize  int
	out       chan<- *Result
	log       zerolog.Logger
}

// Options configures New.
type Options struct {
	Client    *pathclient.Client
	Root      string
	Blacklist *blacklist.Matcher
	PoolSize  int
	Out       chan<- *Result
	Log       zerolog.Logger
}

// New builds a Scanner for one root. PoolSize defaults to
// constants.DefaultScannerPoolSize.
func New(opts Options) *Scanner {
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = constants.DefaultScannerPoolSize
	}
	return &Scanner{
		client:    opts.Client,
		root:      opts.Root,
		blacklist: opts.Blacklist,
		poolSize:  poolSize,
		out:       opts.Out,
		log:       opts.Log,
	}
}

// Run walks the tree rooted at s.root to completion, emitting every
// file onto s.out. It returns once every in-flight directory listing
// has drained or ctx is canceled. Listing errors are logged and
// treated as "no children" for that node — a bad subdirectory never
// aborts the whole scan.
func (s *Scanner) Run(ctx context.Context) error {
	tasks := make(chan string, s.poolSize)
	var wg sync.WaitGroup

	var workerWG sync.WaitGroup
	for i := 0; i < s.poolSize; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for dir := range tasks {
				s.listOne(ctx, dir, tasks, &wg)
				wg.Done()
			}
		}()
	}

	submit := func(dir string) {
		wg.Add(1)
		go func() {
			select {
			case tasks <- dir:
			case <-ctx.Done():
				wg.Done()
			}
		}()
	}

	submit(s.root)

	// Even on cancellation, tasks must not be closed until every
	// submitter has resolved (sent or bailed via ctx) — a send racing a
	// close would panic. Cancellation drains quickly: pending submits
	// bail on ctx.Done and in-flight listings fail fast with a canceled
	// context.
	wg.Wait()
	close(tasks)
	workerWG.Wait()

	return ctx.Err()
}

func (s *Scanner) listOne(ctx context.Context, dir string, tasks chan<- string, wg *sync.WaitGroup) {
	items, err := s.client.List(ctx, dir, true)
	if err != nil {
		s.log.Warn().Err(synerr.Scanner("list "+dir, err)).Str("dir", dir).Msg("scanner: listing failed, skipping subtree")
		return
	}

	for _, item := range items {
		rel := s.relativePath(item.URI)
		if s.blacklist.Blocked(rel) {
			continue
		}

		if item.IsDir {
			wg.Add(1)
			go func(childDir string) {
				select {
				case tasks <- childDir:
				case <-ctx.Done():
					wg.Done()
				}
			}(item.URI)
			continue
		}

		metrics.ScanItemsTotal.WithLabelValues(s.root).Inc()
		select {
		case s.out <- &Result{Item: item, Root: s.root}:
		case <-ctx.Done():
			return
		}
	}
}

// relativePath strips the member root prefix from an absolute uri, the
// same convention the Checker's split() helper uses.
func (s *Scanner) relativePath(uri string) string {
	rel := strings.TrimPrefix(uri, s.root)
	return strings.TrimPrefix(rel, "/")
}
