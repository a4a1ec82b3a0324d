// Package lockregistry implements the in-memory "claimed URI" set:
// before the Checker enqueues a new Worker it must confirm neither
// the source nor the target URI is already claimed by some other live
// Worker, and it must claim both atomically as one step — otherwise
// two concurrently derived intents could race to act on the same
// path.
package lockregistry

import "sync"

// Registry is a mutex-guarded set of claimed URIs, one per sync group
// (each group owns its own Registry; mutation across groups never
// contends).
type Registry struct {
	mu      sync.Mutex
	claimed map[string]string // uri -> id of the worker that claimed it
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{claimed: make(map[string]string)}
}

// Seed rebuilds the registry from the Persistence Handle's
// load_locks(), the way a restarted process recovers which URIs are
// still owned by a surviving Worker record before the Checker runs
// again.
func Seed(uris []string) *Registry {
	r := New()
	for _, u := range uris {
		r.claimed[u] = "recovered"
	}
	return r
}

// TryClaim attempts to claim every uri in uris atomically, as the
// worker identified by id. If any uri is already claimed by a
// different id, none are claimed and TryClaim returns false — the
// whole intent is dropped for this cycle rather than claiming only
// part of it.
func (r *Registry) TryClaim(id string, uris ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range uris {
		if owner, ok := r.claimed[u]; ok && owner != id {
			return false
		}
	}
	for _, u := range uris {
		r.claimed[u] = id
	}
	return true
}

// Claimed reports whether uri is currently claimed by anyone.
func (r *Registry) Claimed(uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.claimed[uri]
	return ok
}

// Release drops every uri in uris from the registry, called once a
// Worker reaches a terminal state.
func (r *Registry) Release(uris ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range uris {
		delete(r.claimed, u)
	}
}

// Len returns the number of currently claimed URIs, for metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claimed)
}
