package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS items (
	uri        TEXT PRIMARY KEY,
	parent     TEXT NOT NULL,
	size       INTEGER NOT NULL,
	mtime_unix INTEGER NOT NULL,
	is_dir     INTEGER NOT NULL,
	hash       TEXT
);
CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent);
`

// sqliteCache is the stat cache half of LocalHandle: WAL journal
// mode, a busy timeout so concurrent scanner goroutines don't fail
// outright on lock contention, and schema-on-open.
type sqliteCache struct {
	conn *sql.DB
}

func newSQLiteCache(dbPath string) (*sqliteCache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open item cache: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.Exec(cacheSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init item cache schema: %w", err)
	}

	return &sqliteCache{conn: conn}, nil
}

func (c *sqliteCache) get(ctx context.Context, uri string) (*model.RemoteItem, bool, error) {
	row := c.conn.QueryRowContext(ctx,
		`SELECT parent, size, mtime_unix, is_dir, hash FROM items WHERE uri = ?`, uri)

	var item model.RemoteItem
	var mtimeUnix int64
	var isDir int
	var hash sql.NullString
	item.URI = uri

	err := row.Scan(&item.Parent, &item.Size, &mtimeUnix, &isDir, &hash)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	item.Mtime = time.Unix(mtimeUnix, 0).UTC()
	item.IsDir = isDir != 0
	item.Hash = hash.String
	return &item, true, nil
}

func (c *sqliteCache) put(ctx context.Context, item *model.RemoteItem) error {
	isDir := 0
	if item.IsDir {
		isDir = 1
	}
	_, err := c.conn.ExecContext(ctx, `
		INSERT INTO items (uri, parent, size, mtime_unix, is_dir, hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			parent = excluded.parent,
			size = excluded.size,
			mtime_unix = excluded.mtime_unix,
			is_dir = excluded.is_dir,
			hash = excluded.hash
	`, item.URI, item.Parent, item.Size, item.Mtime.Unix(), isDir, item.Hash)
	return err
}

func (c *sqliteCache) delete(ctx context.Context, uri string) error {
	_, err := c.conn.ExecContext(ctx, `DELETE FROM items WHERE uri = ?`, uri)
	return err
}

func (c *sqliteCache) Close() error {
	return c.conn.Close()
}
