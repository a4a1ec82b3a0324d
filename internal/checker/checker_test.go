package checker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alist-sync/alist-sync-go/internal/blacklist"
	"github.com/alist-sync/alist-sync-go/internal/config"
	"github.com/alist-sync/alist-sync-go/internal/lockregistry"
	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/pathclient"
	"github.com/alist-sync/alist-sync-go/internal/scanner"
	"github.com/alist-sync/alist-sync-go/internal/store"
)

// fakeFS serves /api/fs/get and /api/fs/list for a single member root
// from a fixed set of known paths, modelling one upstream mount.
type fakeFS map[string]map[string]any // path -> entry (nil children => exists as file with no dir listing)

func newFakeFSServer(t *testing.T, known fakeFS, children map[string][]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Path string `json:"path"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch r.URL.Path {
		case "/api/fs/get":
			entry, ok := known[body.Path]
			if !ok {
				json.NewEncoder(w).Encode(map[string]any{"code": 404, "message": "not found"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": entry})
		case "/api/fs/list":
			json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{"content": children[body.Path]},
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": nil})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestStore(t *testing.T) store.Handle {
	t.Helper()
	h, err := store.NewLocalHandle(store.LocalOptions{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func feedResults(t *testing.T, ch chan<- *scanner.Result, results []*scanner.Result) {
	t.Helper()
	for _, r := range results {
		ch <- r
	}
	close(ch)
}

func TestDiffCopyEmitsForMissingTarget(t *testing.T) {
	reg, err := buildRegistry(t, map[string]*httptest.Server{
		"src":    newFakeFSServer(t, fakeFS{}, nil),
		"target": newFakeFSServer(t, fakeFS{}, nil), // target has nothing
	})
	require.NoError(t, err)

	group := &model.SyncGroup{
		Name:    "movies",
		Mode:    model.ModeCopy,
		Members: []string{reg.url("src"), reg.url("target")},
	}

	out := make(chan *model.TransferIntent, 8)
	c := New(Options{
		Group:     group,
		Servers:   reg.registry,
		Handle:    newTestStore(t),
		Locks:     lockregistry.New(),
		Blacklist: blacklist.Compile(nil, nil),
		Out:       out,
	})

	scanCh := make(chan *scanner.Result, 8)
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	go feedResults(t, scanCh, []*scanner.Result{
		{Root: group.Members[0], Item: &model.RemoteItem{URI: group.Members[0] + "/movie.mkv", Size: 100, Mtime: mtime}},
	})

	require.NoError(t, c.Run(context.Background(), scanCh))
	close(out)

	var got []*model.TransferIntent
	for w := range out {
		got = append(got, w)
	}
	require.Len(t, got, 1)
	assert.Equal(t, model.KindCopy, got[0].Kind)
	assert.Equal(t, group.Members[1]+"/movie.mkv", got[0].TargetURI)
}

func TestDiffCopySkipsExistingTarget(t *testing.T) {
	// The checker stats targets by their full joined member URI, but
	// the wire only ever carries the server-relative path — which is
	// what the fake upstream keys its known paths by.
	targetKnown := fakeFS{
		"/movie.mkv": map[string]any{
			"name": "movie.mkv", "size": 100, "is_dir": false, "modified": "2026-01-01T00:00:00Z",
		},
	}

	reg, err := buildRegistry(t, map[string]*httptest.Server{
		"src":    newFakeFSServer(t, fakeFS{}, nil),
		"target": newFakeFSServer(t, targetKnown, nil),
	})
	require.NoError(t, err)

	group := &model.SyncGroup{
		Name:    "movies",
		Mode:    model.ModeCopy,
		Members: []string{reg.url("src"), reg.url("target")},
	}

	out := make(chan *model.TransferIntent, 8)
	c := New(Options{
		Group:     group,
		Servers:   reg.registry,
		Handle:    newTestStore(t),
		Locks:     lockregistry.New(),
		Blacklist: blacklist.Compile(nil, nil),
		Out:       out,
	})

	scanCh := make(chan *scanner.Result, 8)
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	go feedResults(t, scanCh, []*scanner.Result{
		{Root: group.Members[0], Item: &model.RemoteItem{URI: group.Members[0] + "/movie.mkv", Size: 100, Mtime: mtime}},
	})

	require.NoError(t, c.Run(context.Background(), scanCh))
	close(out)

	var got []*model.TransferIntent
	for w := range out {
		got = append(got, w)
	}
	assert.Empty(t, got, "a target that already exists must not be re-copied")
}

func TestDiffCopyIgnoresDirectories(t *testing.T) {
	reg, err := buildRegistry(t, map[string]*httptest.Server{
		"src":    newFakeFSServer(t, fakeFS{}, nil),
		"target": newFakeFSServer(t, fakeFS{}, nil),
	})
	require.NoError(t, err)

	group := &model.SyncGroup{
		Name:    "movies",
		Mode:    model.ModeCopy,
		Members: []string{reg.url("src"), reg.url("target")},
	}

	out := make(chan *model.TransferIntent, 8)
	c := New(Options{
		Group:     group,
		Servers:   reg.registry,
		Handle:    newTestStore(t),
		Locks:     lockregistry.New(),
		Blacklist: blacklist.Compile(nil, nil),
		Out:       out,
	})

	scanCh := make(chan *scanner.Result, 8)
	go feedResults(t, scanCh, []*scanner.Result{
		{Root: group.Members[0], Item: &model.RemoteItem{URI: group.Members[0] + "/Sub", IsDir: true}},
	})

	require.NoError(t, c.Run(context.Background(), scanCh))
	close(out)

	var got []*model.TransferIntent
	for w := range out {
		got = append(got, w)
	}
	assert.Empty(t, got)
}

func TestDiffSyncNewestWins(t *testing.T) {
	reg, err := buildRegistry(t, map[string]*httptest.Server{
		"a": newFakeFSServer(t, fakeFS{}, nil),
		"b": newFakeFSServer(t, fakeFS{}, nil),
	})
	require.NoError(t, err)

	group := &model.SyncGroup{
		Name:    "docs",
		Mode:    model.ModeSync,
		Members: []string{reg.url("a"), reg.url("b")},
	}

	out := make(chan *model.TransferIntent, 8)
	c := New(Options{
		Group:     group,
		Servers:   reg.registry,
		Handle:    newTestStore(t),
		Locks:     lockregistry.New(),
		Blacklist: blacklist.Compile(nil, nil),
		Out:       out,
	})

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	scanCh := make(chan *scanner.Result, 8)
	go feedResults(t, scanCh, []*scanner.Result{
		{Root: group.Members[0], Item: &model.RemoteItem{URI: group.Members[0] + "/note.txt", Size: 10, Mtime: newer}},
		{Root: group.Members[1], Item: &model.RemoteItem{URI: group.Members[1] + "/note.txt", Size: 5, Mtime: older}},
	})

	require.NoError(t, c.Run(context.Background(), scanCh))
	close(out)

	var got []*model.TransferIntent
	for w := range out {
		got = append(got, w)
	}
	require.Len(t, got, 1)
	assert.Equal(t, group.Members[0]+"/note.txt", got[0].SourceURI)
	assert.Equal(t, group.Members[1]+"/note.txt", got[0].TargetURI)
}

func TestDiffSyncSkipsWhenAllEqual(t *testing.T) {
	reg, err := buildRegistry(t, map[string]*httptest.Server{
		"a": newFakeFSServer(t, fakeFS{}, nil),
		"b": newFakeFSServer(t, fakeFS{}, nil),
	})
	require.NoError(t, err)

	group := &model.SyncGroup{
		Name:    "docs",
		Mode:    model.ModeSync,
		Members: []string{reg.url("a"), reg.url("b")},
	}

	out := make(chan *model.TransferIntent, 8)
	c := New(Options{
		Group:     group,
		Servers:   reg.registry,
		Handle:    newTestStore(t),
		Locks:     lockregistry.New(),
		Blacklist: blacklist.Compile(nil, nil),
		Out:       out,
	})

	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	scanCh := make(chan *scanner.Result, 8)
	go feedResults(t, scanCh, []*scanner.Result{
		{Root: group.Members[0], Item: &model.RemoteItem{URI: group.Members[0] + "/note.txt", Size: 10, Mtime: mtime}},
		{Root: group.Members[1], Item: &model.RemoteItem{URI: group.Members[1] + "/note.txt", Size: 10, Mtime: mtime}},
	})

	require.NoError(t, c.Run(context.Background(), scanCh))
	close(out)

	var got []*model.TransferIntent
	for w := range out {
		got = append(got, w)
	}
	assert.Empty(t, got, "identical mtimes with identical sizes require no action")
}

func TestDispatchDryRunNeverClaimsLocks(t *testing.T) {
	reg, err := buildRegistry(t, map[string]*httptest.Server{
		"src":    newFakeFSServer(t, fakeFS{}, nil),
		"target": newFakeFSServer(t, fakeFS{}, nil),
	})
	require.NoError(t, err)

	group := &model.SyncGroup{
		Name:    "movies",
		Mode:    model.ModeCopy,
		Members: []string{reg.url("src"), reg.url("target")},
	}

	locks := lockregistry.New()
	out := make(chan *model.TransferIntent, 8)
	c := New(Options{
		Group:     group,
		Servers:   reg.registry,
		Handle:    newTestStore(t),
		Locks:     locks,
		Blacklist: blacklist.Compile(nil, nil),
		DryRun:    true,
		Out:       out,
	})

	scanCh := make(chan *scanner.Result, 8)
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	go feedResults(t, scanCh, []*scanner.Result{
		{Root: group.Members[0], Item: &model.RemoteItem{URI: group.Members[0] + "/movie.mkv", Size: 100, Mtime: mtime}},
	})

	require.NoError(t, c.Run(context.Background(), scanCh))
	close(out)

	var got []*model.TransferIntent
	for w := range out {
		got = append(got, w)
	}
	require.Len(t, got, 1, "dry run still reports the intent that would have been dispatched")
	assert.Equal(t, 0, locks.Len(), "dry run must never claim a lock")
}

func TestDispatchDropsOnLockConflict(t *testing.T) {
	reg, err := buildRegistry(t, map[string]*httptest.Server{
		"src":    newFakeFSServer(t, fakeFS{}, nil),
		"target": newFakeFSServer(t, fakeFS{}, nil),
	})
	require.NoError(t, err)

	group := &model.SyncGroup{
		Name:    "movies",
		Mode:    model.ModeCopy,
		Members: []string{reg.url("src"), reg.url("target")},
	}

	locks := lockregistry.New()
	targetURI := reg.url("target") + "/movie.mkv"
	locks.TryClaim("someone-else", targetURI)

	out := make(chan *model.TransferIntent, 8)
	c := New(Options{
		Group:     group,
		Servers:   reg.registry,
		Handle:    newTestStore(t),
		Locks:     locks,
		Blacklist: blacklist.Compile(nil, nil),
		Out:       out,
	})

	scanCh := make(chan *scanner.Result, 8)
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	go feedResults(t, scanCh, []*scanner.Result{
		{Root: group.Members[0], Item: &model.RemoteItem{URI: group.Members[0] + "/movie.mkv", Size: 100, Mtime: mtime}},
	})

	require.NoError(t, c.Run(context.Background(), scanCh))
	close(out)

	var got []*model.TransferIntent
	for w := range out {
		got = append(got, w)
	}
	assert.Empty(t, got, "an intent whose target uri is already claimed must be dropped for this cycle")
}

func TestUnchangedSkipsCachedMatch(t *testing.T) {
	reg, err := buildRegistry(t, map[string]*httptest.Server{
		"src":    newFakeFSServer(t, fakeFS{}, nil),
		"target": newFakeFSServer(t, fakeFS{}, nil),
	})
	require.NoError(t, err)

	group := &model.SyncGroup{
		Name:    "movies",
		Mode:    model.ModeCopy,
		Members: []string{reg.url("src"), reg.url("target")},
	}

	handle := newTestStore(t)
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sourceURI := reg.url("src") + "/movie.mkv"
	require.NoError(t, handle.PutCachedItem(context.Background(), &model.RemoteItem{URI: sourceURI, Size: 100, Mtime: mtime}))

	out := make(chan *model.TransferIntent, 8)
	c := New(Options{
		Group:     group,
		Servers:   reg.registry,
		Handle:    handle,
		Locks:     lockregistry.New(),
		Blacklist: blacklist.Compile(nil, nil),
		Out:       out,
	})

	scanCh := make(chan *scanner.Result, 8)
	go feedResults(t, scanCh, []*scanner.Result{
		{Root: group.Members[0], Item: &model.RemoteItem{URI: sourceURI, Size: 100, Mtime: mtime}},
	})

	require.NoError(t, c.Run(context.Background(), scanCh))
	close(out)

	var got []*model.TransferIntent
	for w := range out {
		got = append(got, w)
	}
	assert.Empty(t, got, "a source matching the cached stat must be skipped even though the target is missing")
}

// testRegistry maps a short label to an httptest.Server and its
// resolved member-root URI, backed by a real pathclient.Registry so
// Checker's server lookups behave exactly as in production.
type testRegistry struct {
	registry *pathclient.Registry
	servers  map[string]*httptest.Server
}

func (r *testRegistry) url(label string) string {
	return r.servers[label].URL
}

func buildRegistry(t *testing.T, servers map[string]*httptest.Server) (*testRegistry, error) {
	t.Helper()
	var cfgs []config.ServerConfig
	for _, srv := range servers {
		cfgs = append(cfgs, config.ServerConfig{BaseURL: srv.URL})
	}
	reg, err := pathclient.NewRegistry(context.Background(), cfgs)
	if err != nil {
		return nil, err
	}
	return &testRegistry{registry: reg, servers: servers}, nil
}
