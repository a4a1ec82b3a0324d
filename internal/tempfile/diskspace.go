package tempfile

import (
	"fmt"
	"syscall"
)

// FreeBytes queries the filesystem holding path for user-accessible
// free space. It feeds the cache-size policy and the registry's
// back-pressure watermark.
func FreeBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs failed for %s: %w", path, err)
	}
	return int64(stat.Bavail * uint64(stat.Bsize)), nil
}
