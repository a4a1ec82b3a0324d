package checker

import (
	"context"

	"github.com/alist-sync/alist-sync-go/internal/pathclient"
)

// diffCopy implements the one-way, non-destructive copy mode: every
// source file missing at a target member is copied there. Only
// members[0] is scanned (the scheduler only starts one Scanner for
// this mode), so target existence is checked directly via Path
// Client.Stat, memoized per (root, rel) so each candidate is fetched
// at most once per cycle.
func (c *Checker) diffCopy(ctx context.Context, v view) error {
	source := c.group.MainMember()
	targets := c.group.Members[1:]

	statCache := make(map[string]bool) // uri -> exists

	exists := func(client *pathclient.Client, uri string) bool {
		if v, ok := statCache[uri]; ok {
			return v
		}
		_, err := client.Stat(ctx, uri)
		ok2 := err == nil
		statCache[uri] = ok2
		return ok2
	}

	for rel, byRoot := range v {
		src := byRoot[source]
		if src == nil || src.IsDir {
			continue
		}
		if c.unchanged(ctx, src) {
			continue
		}

		emitted := false
		for _, target := range targets {
			client, ok := c.servers.ForURI(target)
			if !ok {
				continue
			}
			targetURI := joinURI(target, rel)
			if exists(client, targetURI) {
				continue
			}
			c.emitCopy(ctx, src, target, rel)
			emitted = true
		}
		if !emitted {
			c.rememberCache(ctx, src)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}
