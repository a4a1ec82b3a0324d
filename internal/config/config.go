// Package config loads and validates the YAML configuration: upstream
// server credentials, sync groups, notification sinks, and logging.
// The recognized ALIST_SYNC_* environment variables are layered over
// the file the way a CLI's persistent flags normally would.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/alist-sync/alist-sync-go/internal/constants"
	"github.com/alist-sync/alist-sync-go/internal/model"
)

// Config is the root configuration document. TimeoutSeconds is the
// grace period before a one-shot run exits with workers still
// outstanding.
// LogRetentionDays prunes completed-transfer history older than N days
// when the store is opened; zero keeps it forever.
type Config struct {
	Name             string            `yaml:"name"`
	CacheDir         string            `yaml:"cache_dir"`
	CacheMaxSize     string            `yaml:"cache_max_size"`
	TimeoutSeconds   int               `yaml:"timeout"`
	Daemon           bool              `yaml:"daemon"`
	MongoDBURI       string            `yaml:"mongodb_uri"`
	LogRetentionDays int               `yaml:"log_retention_days"`
	AlistServers     []ServerConfig    `yaml:"alist_servers"`
	SyncGroups       []model.SyncGroup `yaml:"sync_groups"`
	Notify           []NotifyConfig    `yaml:"notify"`
	Logs             LogsConfig        `yaml:"logs"`
	Debug            bool              `yaml:"-"`
}

// ServerConfig is one alist_servers: entry.
type ServerConfig struct {
	BaseURL       string         `yaml:"base_url"`
	Username      string         `yaml:"username"`
	Password      string         `yaml:"password"`
	Token         string         `yaml:"token"`
	VerifyTLS     bool           `yaml:"verify"`
	MaxConnect    int            `yaml:"max_connect"`
	StorageConfig map[string]any `yaml:"storage_config,omitempty"`
}

// NotifyConfig is one notify: entry (webhook or email).
type NotifyConfig struct {
	Type     string   `yaml:"type"`
	URL      string   `yaml:"url,omitempty"`
	SMTPHost string   `yaml:"smtp_host,omitempty"`
	SMTPPort int      `yaml:"smtp_port,omitempty"`
	From     string   `yaml:"from,omitempty"`
	To       []string `yaml:"to,omitempty"`
}

// LogsConfig configures internal/logging.
type LogsConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file,omitempty"`
}

// Default returns a config with sensible defaults, the way a fresh
// install's auto-generated config.yaml should read.
func Default() *Config {
	return &Config{
		Name:           defaultRunnerName(),
		CacheDir:       defaultCacheDir(),
		CacheMaxSize:   "0",
		TimeoutSeconds: int(constants.DefaultOneShotGracePeriod / time.Second),
		Daemon:         false,
		Logs:           LogsConfig{Level: "info", JSON: false},
	}
}

func defaultCacheDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ".alist-sync-cache"
	}
	return filepath.Join(filepath.Dir(exe), ".alist-sync-cache")
}

func defaultRunnerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "alist-sync"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString())
}

// Load reads and parses path, applying ALIST_SYNC_* environment
// overrides afterward. A missing file is not an error: Load returns
// Default() so the caller (the CLI's PersistentPreRunE) can persist it
// as a starting point.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	for i := range cfg.AlistServers {
		s := &cfg.AlistServers[i]
		if s.MaxConnect <= 0 {
			s.MaxConnect = constants.DefaultMaxConnect
		}
	}
	for i := range cfg.SyncGroups {
		g := &cfg.SyncGroups[i]
		if g.BackupDir == "" {
			g.BackupDir = constants.DefaultBackupDir
		}
		if g.IntervalSeconds <= 0 {
			g.IntervalSeconds = int(constants.DefaultGroupInterval / time.Second)
		}
		g.Blacklist = append(g.Blacklist, constants.ImplicitBlacklistGlob)
	}

	return cfg, nil
}

// Save writes cfg to path as YAML, creating the parent directory if
// needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnv layers the recognized ALIST_SYNC_* environment variables
// over cfg, the way a CLI flag would override a config file value.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ALIST_SYNC_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("ALIST_SYNC_CACHE_MAX_SIZE"); v != "" {
		cfg.CacheMaxSize = v
	}
	if v := os.Getenv("ALIST_SYNC_DAEMON"); v != "" {
		cfg.Daemon = truthy(v)
	}
	if v := os.Getenv("ALIST_SYNC_DEBUG"); v != "" {
		cfg.Debug = truthy(v)
	}
	if v := os.Getenv("ALIST_SYNC_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("ALIST_SYNC_MONGODB_URI"); v != "" {
		cfg.MongoDBURI = v
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// CacheMaxSizeBytes resolves the cache_max_size string against the
// given free-disk-space figure: "0" means half of free disk, "-1"
// means all free disk, otherwise a number with a B/KB/MB/GB unit
// suffix.
func CacheMaxSizeBytes(spec string, freeBytes int64) (int64, error) {
	spec = strings.TrimSpace(spec)
	if spec == "0" {
		return freeBytes / 2, nil
	}
	if spec == "-1" {
		return freeBytes, nil
	}

	units := []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(strings.ToUpper(spec), u.suffix) {
			numPart := spec[:len(spec)-len(u.suffix)]
			n, err := strconv.ParseInt(strings.TrimSpace(numPart), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid cache_max_size %q: %w", spec, err)
			}
			return n * u.mult, nil
		}
	}
	n, err := strconv.ParseInt(spec, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache_max_size %q: %w", spec, err)
	}
	return n, nil
}

// Validate checks the whole document for structural errors. Any error
// returned here is fatal at startup: the CLI refuses to run with it.
func (c *Config) Validate() error {
	if len(c.AlistServers) == 0 {
		return fmt.Errorf("at least one alist_servers entry is required")
	}
	for i, s := range c.AlistServers {
		if s.BaseURL == "" {
			return fmt.Errorf("alist_servers[%d]: base_url is required", i)
		}
		if _, err := url.Parse(s.BaseURL); err != nil {
			return fmt.Errorf("alist_servers[%d]: invalid base_url %q: %w", i, s.BaseURL, err)
		}
	}

	if len(c.SyncGroups) == 0 {
		return fmt.Errorf("at least one sync_groups entry is required")
	}
	names := make(map[string]bool, len(c.SyncGroups))
	for i := range c.SyncGroups {
		g := &c.SyncGroups[i]
		if err := g.Validate(); err != nil {
			return err
		}
		if names[g.Name] {
			return fmt.Errorf("sync group name %q is not unique", g.Name)
		}
		names[g.Name] = true
		for _, m := range g.Members {
			if !filepath.IsAbs(m) && !strings.Contains(m, "://") {
				return fmt.Errorf("sync group %q: member %q must be an absolute mount URI", g.Name, m)
			}
		}
	}

	for i, n := range c.Notify {
		switch n.Type {
		case "webhook":
			if n.URL == "" {
				return fmt.Errorf("notify[%d]: webhook requires url", i)
			}
		case "email":
			// intentionally permissive: internal/notify's email sink
			// reports ErrNotConfigured at send time rather than here.
		default:
			return fmt.Errorf("notify[%d]: unknown type %q", i, n.Type)
		}
	}

	if _, err := CacheMaxSizeBytes(c.CacheMaxSize, 1<<40); err != nil {
		return err
	}

	return nil
}

// ServerFor returns the ServerConfig whose base_url host:port matches
// the given member URI, or false if none does.
func (c *Config) ServerFor(memberURI string) (ServerConfig, bool) {
	u, err := url.Parse(memberURI)
	if err != nil {
		return ServerConfig{}, false
	}
	for _, s := range c.AlistServers {
		su, err := url.Parse(s.BaseURL)
		if err != nil {
			continue
		}
		if su.Host == u.Host {
			return s, true
		}
	}
	return ServerConfig{}, false
}
