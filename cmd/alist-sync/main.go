// Command alist-sync is the CLI front-end for the synchronization
// engine: a cobra root command whose PersistentPreRunE loads the
// effective config and stands up the shared upstream clients,
// persistence handle, and temp-file registry every subcommand needs,
// with PersistentPostRunE tearing them back down.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alist-sync/alist-sync-go/internal/config"
	"github.com/alist-sync/alist-sync-go/internal/logging"
	"github.com/alist-sync/alist-sync-go/internal/metrics"
	"github.com/alist-sync/alist-sync-go/internal/notify"
	"github.com/alist-sync/alist-sync-go/internal/pathclient"
	"github.com/alist-sync/alist-sync-go/internal/scheduler"
	"github.com/alist-sync/alist-sync-go/internal/store"
	"github.com/alist-sync/alist-sync-go/internal/tempfile"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath  string
	debug       bool
	metricsAddr string

	cfg     *config.Config
	servers *pathclient.Registry
	handle  store.Handle
	temps   *tempfile.Registry
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "alist-sync",
		Short:   "Synchronize file trees across upstream storage mounts",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return teardown()
		},
	}

	defaultConfig := os.Getenv("ALIST_SYNC_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "./config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Run one transfer at a time and log to the console; directory scanning stays concurrent")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(
		newSyncCmd(),
		newCheckCmd(),
		newTestConfigCmd(),
		newGetInfoCmd(),
		newTestIgnoreCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		if code := exitCode(err); code != 0 {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(code)
		}
	}
}

// setup loads the config and builds every shared dependency a
// subcommand might need. test-ignore doesn't need a live upstream
// connection, but logging in up front keeps every command's
// PersistentPreRunE identical.
func setup(ctx context.Context) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Debug = cfg.Debug || debug

	logging.Init(logging.Config{
		Level: logging.Level(cfg.Logs.Level),
		JSON:  cfg.Logs.JSON && !cfg.Debug,
	})

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	servers, err = pathclient.NewRegistry(ctx, cfg.AlistServers)
	if err != nil {
		return fmt.Errorf("connect to upstream servers: %w", err)
	}

	handle, err = store.Open(ctx, store.Options{
		CacheDir:         cfg.CacheDir,
		MongoURI:         cfg.MongoDBURI,
		LogRetentionDays: cfg.LogRetentionDays,
	})
	if err != nil {
		return fmt.Errorf("open persistence handle: %w", err)
	}

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	free, err := tempfile.FreeBytes(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("statfs cache dir: %w", err)
	}
	allowed, err := config.CacheMaxSizeBytes(cfg.CacheMaxSize, free)
	if err != nil {
		return fmt.Errorf("invalid cache_max_size: %w", err)
	}
	// cache_max_size names how much of free disk the cache may use;
	// the Registry's watermark names how much free disk to leave
	// untouched, so it is the complement.
	watermark := free - allowed
	if watermark < 0 {
		watermark = 0
	}

	temps, err = tempfile.NewRegistry(tempfile.Options{
		Dir:       cfg.CacheDir,
		Watermark: watermark,
		AutoClear: true,
		Log:       logging.WithComponent("tempfile"),
	})
	if err != nil {
		return fmt.Errorf("open temp-file cache: %w", err)
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	return nil
}

func teardown() error {
	if handle != nil {
		return handle.Close()
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger := logging.WithComponent("metrics")
		logger.Warn().Err(err).Msg("metrics server stopped")
	}
}

func newNotifier() notify.Notifier {
	return notify.New(cfg.Notify, logging.WithComponent("notify"))
}

func newScheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	return scheduler.New(ctx, scheduler.Options{
		Config:    cfg,
		Servers:   servers,
		Handle:    handle,
		TempFiles: temps,
		Notifier:  newNotifier(),
		Debug:     cfg.Debug,
	})
}

func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}
