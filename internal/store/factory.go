package store

import "context"

// Options selects and parameterizes the Handle backend.
type Options struct {
	// CacheDir hosts the local backend's files; ignored when MongoURI
	// is set.
	CacheDir string
	// MongoURI switches to the document-database backend when non-empty.
	MongoURI string
	// MongoDB is the database name; defaults to "alist_sync".
	MongoDB string
	// LogRetentionDays prunes completed-log entries older than this at
	// open time; zero keeps the history forever.
	LogRetentionDays int
}

// Open selects and opens the Handle implementation: LocalHandle
// unless MongoURI is set, in which case the document database backend
// takes over entirely (the two are never used together).
func Open(ctx context.Context, opts Options) (Handle, error) {
	if opts.MongoURI != "" {
		db := opts.MongoDB
		if db == "" {
			db = "alist_sync"
		}
		return NewMongoHandle(ctx, opts.MongoURI, db, opts.LogRetentionDays)
	}
	return NewLocalHandle(LocalOptions{Dir: opts.CacheDir, LogRetentionDays: opts.LogRetentionDays})
}
