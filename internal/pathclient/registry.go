package pathclient

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/alist-sync/alist-sync-go/internal/config"
	"github.com/alist-sync/alist-sync-go/internal/logging"
)

// serverKey derives the host:port registry key from a base_url or a
// member mount URI, so ForURI can resolve a sync group member back to
// the Client that owns it.
func serverKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return u.Host, nil
}

// Registry holds the one Client per configured upstream server, keyed
// by base_url host:port, and logs them in through a shared base
// logger the way the scheduler logs each of its owned groups.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     zerolog.Logger
}

// NewRegistry builds a Registry with a Client per entry in servers,
// logging each in (when username/password auth is configured).
func NewRegistry(ctx context.Context, servers []config.ServerConfig) (*Registry, error) {
	r := &Registry{
		clients: make(map[string]*Client, len(servers)),
		log:     logging.WithComponent("pathclient"),
	}

	for _, s := range servers {
		key, err := serverKey(s.BaseURL)
		if err != nil {
			return nil, err
		}

		c := New(key, Config{
			BaseURL:    s.BaseURL,
			Username:   s.Username,
			Password:   s.Password,
			Token:      s.Token,
			VerifyTLS:  s.VerifyTLS,
			MaxConnect: s.MaxConnect,
			Log:        logging.WithServer(r.log, key),
		})

		if err := c.Login(ctx); err != nil {
			return nil, fmt.Errorf("login to %s: %w", key, err)
		}

		r.clients[key] = c
	}

	return r, nil
}

// Get returns the Client for the given server key (host:port), or
// false if none is registered.
func (r *Registry) Get(key string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[key]
	return c, ok
}

// ForURI returns the Client whose server owns memberURI.
func (r *Registry) ForURI(memberURI string) (*Client, bool) {
	key, err := serverKey(memberURI)
	if err != nil {
		return nil, false
	}
	return r.Get(key)
}

// All returns every registered Client, in no particular order.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
