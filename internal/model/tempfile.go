package model

// TempFileRecord tracks one locally staged download used by a two-stage
// copy transfer (internal/tempfile).
type TempFileRecord struct {
	LocalPath     string `json:"local_path"`
	RemoteURI     string `json:"remote_uri"`
	ProjectedSize int64  `json:"projected_size"`
	RefCount      int    `json:"refcount"`
}
