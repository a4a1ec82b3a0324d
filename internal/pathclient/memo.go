package pathclient

import (
	"context"
	"sync"
	"time"
)

// memoCache coalesces repeated task_done/task_undone polls from many
// concurrent workers into one outbound request per TTL window, keyed
// by an arbitrary string (kind, prefixed by poll type).
type memoCache struct {
	mu      sync.Mutex
	entries map[string]*memoEntry
}

type memoEntry struct {
	expires time.Time
	value   []TaskInfo
	err     error
	done    chan struct{}
}

func newMemoCache() *memoCache {
	return &memoCache{entries: make(map[string]*memoEntry)}
}

func (m *memoCache) get(ctx context.Context, key string, ttl time.Duration, fetch func() ([]TaskInfo, error)) ([]TaskInfo, error) {
	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		if time.Now().Before(e.expires) {
			m.mu.Unlock()
			select {
			case <-e.done:
				return e.value, e.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		delete(m.entries, key)
	}

	// The TTL window opens at request start, not completion: a second
	// caller arriving mid-fetch must see an unexpired entry and wait on
	// done rather than kick off its own request.
	e := &memoEntry{done: make(chan struct{}), expires: time.Now().Add(ttl)}
	m.entries[key] = e
	m.mu.Unlock()

	e.value, e.err = fetch()
	close(e.done)
	return e.value, e.err
}
