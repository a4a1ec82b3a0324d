package checker

import (
	"context"

	"github.com/alist-sync/alist-sync-go/internal/scanner"
)

// diffMirror implements the one-way, destructive mirror mode: missing
// targets are copied exactly as in diffCopy, and any target file
// absent from the source is deleted. Detecting "extra" target files
// requires walking each target member's own tree — the scheduler only
// scans members[0] for this mode — so the Checker spins up its own
// internal Scanner per target member to enumerate it.
func (c *Checker) diffMirror(ctx context.Context, v view) error {
	source := c.group.MainMember()
	targets := c.group.Members[1:]

	sourceSeen := make(map[string]bool, len(v))
	for rel, byRoot := range v {
		if byRoot[source] != nil {
			sourceSeen[rel] = true
		}
	}

	if err := c.diffCopy(ctx, v); err != nil {
		return err
	}

	for _, target := range targets {
		client, ok := c.servers.ForURI(target)
		if !ok {
			continue
		}

		results := make(chan *scanner.Result, 64)
		sc := scanner.New(scanner.Options{
			Client:    client,
			Root:      target,
			Blacklist: c.blacklist,
			PoolSize:  c.poolSize,
			Out:       results,
			Log:       c.log,
		})

		done := make(chan error, 1)
		go func() { done <- sc.Run(ctx); close(results) }()

		for res := range results {
			if res.Item.IsDir {
				continue
			}
			rel := c.relative(target, res.Item.URI)
			if sourceSeen[rel] {
				continue
			}
			c.emitDelete(ctx, target, rel)
		}

		if err := <-done; err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return nil
}
