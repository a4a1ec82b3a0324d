package model

import "time"

// RemoteItem is an immutable snapshot of a remote file or directory as
// returned by Path Client's stat/list operations.
type RemoteItem struct {
	URI    string    `json:"uri" bson:"uri"`
	Parent string    `json:"parent" bson:"parent"`
	Size   int64     `json:"size" bson:"size"`
	Mtime  time.Time `json:"mtime" bson:"mtime"`
	IsDir  bool      `json:"is_dir" bson:"is_dir"`
	Hash   string    `json:"hash,omitempty" bson:"hash,omitempty"`
}

// Unchanged reports whether other represents the same on-disk content
// as i, per the (size, mtime, hash-if-present) equality rule every mode
// uses to skip re-processing a path.
func (i *RemoteItem) Unchanged(other *RemoteItem) bool {
	if other == nil {
		return false
	}
	if i.Size != other.Size || !i.Mtime.Equal(other.Mtime) {
		return false
	}
	if i.Hash != "" && other.Hash != "" && i.Hash != other.Hash {
		return false
	}
	return true
}
