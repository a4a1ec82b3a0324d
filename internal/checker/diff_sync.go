package checker

import (
	"context"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

// diffSync implements the symmetric sync and sync-incr modes: the set
// of relative paths present in any member becomes present in all
// members, with ties resolved by newest mtime wins.
// sync-incr differs only in how aggressively it relies on the item
// metadata cache: every mode already skips a path whose (size, mtime,
// hash) matches the last recorded snapshot via c.unchanged, and prior
// passes keep that cache warm via rememberCache, so sync-incr needs no
// separate code path once the shared accumulation view is built.
func (c *Checker) diffSync(ctx context.Context, v view) error {
	for rel, byRoot := range v {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.syncOne(ctx, rel, byRoot)
	}
	return nil
}

func (c *Checker) syncOne(ctx context.Context, rel string, byRoot map[string]*model.RemoteItem) {
	var newestRoot string
	var newest *model.RemoteItem

	for _, m := range c.group.Members {
		item := byRoot[m]
		if item == nil || item.IsDir {
			continue
		}
		if newest == nil || item.Mtime.After(newest.Mtime) {
			newest, newestRoot = item, m
		}
	}
	if newest == nil {
		return
	}
	if c.unchanged(ctx, newest) {
		return
	}

	emitted := false
	for _, m := range c.group.Members {
		if m == newestRoot {
			continue
		}
		item := byRoot[m]
		if item == nil {
			c.emitCopy(ctx, newest, m, rel)
			emitted = true
			continue
		}
		if item.Mtime.Equal(newest.Mtime) {
			if item.Size != newest.Size {
				c.log.Warn().
					Str("rel", rel).
					Str("a", newestRoot).
					Str("b", m).
					Msg("checker: sync conflict, same mtime different size, leaving both sides untouched")
			}
			continue
		}
		if item.Mtime.Before(newest.Mtime) {
			c.emitCopy(ctx, newest, m, rel)
			emitted = true
		}
	}

	if !emitted {
		c.rememberCache(ctx, newest)
	}
}
