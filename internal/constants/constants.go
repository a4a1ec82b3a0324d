// Package constants collects the engine's default tunables so they
// are defined once instead of scattered as magic numbers across the
// components that use them.
package constants

import "time"

// Path Client defaults.
const (
	DefaultMaxConnect = 30
	DefaultPutTimeout = 300 * time.Second
	TaskDoneMemoTTL   = 5 * time.Second
	TaskUndoneMemoTTL = 1 * time.Second

	DefaultRequestsPerSecond = 10.0
	DefaultBurst             = 20
)

// Channel and pool sizing. Bounded channels block producers, which is
// what keeps a fast scanner from racing ahead of a slow worker pool.
const (
	ScannerChannelSize     = 30
	CheckerChannelSize     = 30
	DefaultScannerPoolSize = 5
	DefaultWorkerPoolSize  = 10
)

// Temp-File Registry defaults.
const (
	DefaultCacheWatermarkBytes = 15 << 30 // 15 GiB
	TempFilePrefix             = "download_tmp_"
)

// Backup area.
const (
	DefaultBackupDir = ".alist-sync-backup"
)

// Recheck defaults: bounded retries on the post-transfer stat,
// separate from requeueDelay's "come back later" backoff for an
// upstream task still in flight.
const (
	RecheckStatRetries    = 3
	RecheckStatRetryDelay = 500 * time.Millisecond
)

// ImplicitBlacklistGlob is always present regardless of group
// configuration, so the backup/metadata directory is never itself
// scanned or synced.
const ImplicitBlacklistGlob = ".alist-sync*"

// Scheduler defaults.
const (
	DefaultOneShotGracePeriod = 10 * time.Second
	DefaultGroupInterval      = 300 * time.Second
)
