package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

func validGroup(name string) model.SyncGroup {
	return model.SyncGroup{
		Name:    name,
		Mode:    model.ModeMirror,
		Enable:  true,
		Members: []string{"alist://server1/a", "alist://server1/b"},
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "0", cfg.CacheMaxSize)
	assert.False(t, cfg.Daemon)
	assert.Equal(t, "info", cfg.Logs.Level)
	assert.NotEmpty(t, cfg.Name)
	assert.NotEmpty(t, cfg.CacheDir)
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().CacheMaxSize, cfg.CacheMaxSize)
}

func TestLoadAppliesGroupDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
alist_servers:
  - base_url: https://alist.example.com
sync_groups:
  - name: movies
    type: mirror
    enable: true
    group:
      - alist://server1/a
      - alist://server1/b
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.SyncGroups, 1)

	g := cfg.SyncGroups[0]
	assert.Equal(t, ".alist-sync-backup", g.BackupDir)
	assert.Greater(t, g.IntervalSeconds, 0)
	assert.Contains(t, g.Blacklist, ".alist-sync*")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: valid: yaml: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.AlistServers = []ServerConfig{{BaseURL: "https://alist.example.com"}}
	cfg.SyncGroups = []model.SyncGroup{validGroup("movies")}

	require.NoError(t, cfg.Save(path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.AlistServers[0].BaseURL, reloaded.AlistServers[0].BaseURL)
	require.Len(t, reloaded.SyncGroups, 1)
	assert.Equal(t, "movies", reloaded.SyncGroups[0].Name)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ALIST_SYNC_CACHE_DIR", "/custom/cache")
	t.Setenv("ALIST_SYNC_CACHE_MAX_SIZE", "10GB")
	t.Setenv("ALIST_SYNC_DAEMON", "true")
	t.Setenv("ALIST_SYNC_DEBUG", "yes")
	t.Setenv("ALIST_SYNC_NAME", "runner-x")
	t.Setenv("ALIST_SYNC_MONGODB_URI", "mongodb://localhost:27017")

	cfg := Default()
	applyEnv(cfg)

	assert.Equal(t, "/custom/cache", cfg.CacheDir)
	assert.Equal(t, "10GB", cfg.CacheMaxSize)
	assert.True(t, cfg.Daemon)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "runner-x", cfg.Name)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDBURI)
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "y", "on"} {
		assert.True(t, truthy(v), "expected %q to be truthy", v)
	}
	for _, v := range []string{"0", "false", "no", "", "garbage"} {
		assert.False(t, truthy(v), "expected %q to be falsy", v)
	}
}

func TestCacheMaxSizeBytes(t *testing.T) {
	const free = int64(100 * 1 << 30) // 100GB

	tests := []struct {
		spec    string
		want    int64
		wantErr bool
	}{
		{"0", free / 2, false},
		{"-1", free, false},
		{"5GB", 5 << 30, false},
		{"512MB", 512 << 20, false},
		{"1024KB", 1024 << 10, false},
		{"100B", 100, false},
		{"42", 42, false},
		{"not-a-number", 0, true},
		{"5XB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := CacheMaxSizeBytes(tt.spec, free)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateRequiresServers(t *testing.T) {
	cfg := Default()
	cfg.SyncGroups = []model.SyncGroup{validGroup("movies")}

	err := cfg.Validate()
	assert.ErrorContains(t, err, "alist_servers")
}

func TestValidateRequiresSyncGroups(t *testing.T) {
	cfg := Default()
	cfg.AlistServers = []ServerConfig{{BaseURL: "https://alist.example.com"}}

	err := cfg.Validate()
	assert.ErrorContains(t, err, "sync_groups")
}

func TestValidateRejectsInvalidBaseURL(t *testing.T) {
	cfg := Default()
	cfg.AlistServers = []ServerConfig{{BaseURL: "://not a url"}}
	cfg.SyncGroups = []model.SyncGroup{validGroup("movies")}

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateGroupNames(t *testing.T) {
	cfg := Default()
	cfg.AlistServers = []ServerConfig{{BaseURL: "https://alist.example.com"}}
	cfg.SyncGroups = []model.SyncGroup{validGroup("movies"), validGroup("movies")}

	assert.ErrorContains(t, cfg.Validate(), "not unique")
}

func TestValidateRejectsNonAbsoluteMember(t *testing.T) {
	cfg := Default()
	cfg.AlistServers = []ServerConfig{{BaseURL: "https://alist.example.com"}}
	g := validGroup("movies")
	g.Members = []string{"relative/path", "alist://server1/b"}
	cfg.SyncGroups = []model.SyncGroup{g}

	assert.ErrorContains(t, cfg.Validate(), "absolute mount URI")
}

func TestValidateNotifyWebhookRequiresURL(t *testing.T) {
	cfg := Default()
	cfg.AlistServers = []ServerConfig{{BaseURL: "https://alist.example.com"}}
	cfg.SyncGroups = []model.SyncGroup{validGroup("movies")}
	cfg.Notify = []NotifyConfig{{Type: "webhook"}}

	assert.ErrorContains(t, cfg.Validate(), "webhook requires url")
}

func TestValidateNotifyUnknownType(t *testing.T) {
	cfg := Default()
	cfg.AlistServers = []ServerConfig{{BaseURL: "https://alist.example.com"}}
	cfg.SyncGroups = []model.SyncGroup{validGroup("movies")}
	cfg.Notify = []NotifyConfig{{Type: "carrier-pigeon"}}

	assert.ErrorContains(t, cfg.Validate(), "unknown type")
}

func TestValidateNotifyEmailIsPermissive(t *testing.T) {
	cfg := Default()
	cfg.AlistServers = []ServerConfig{{BaseURL: "https://alist.example.com"}}
	cfg.SyncGroups = []model.SyncGroup{validGroup("movies")}
	cfg.Notify = []NotifyConfig{{Type: "email"}}

	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadCacheMaxSize(t *testing.T) {
	cfg := Default()
	cfg.AlistServers = []ServerConfig{{BaseURL: "https://alist.example.com"}}
	cfg.SyncGroups = []model.SyncGroup{validGroup("movies")}
	cfg.CacheMaxSize = "not-a-size"

	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := Default()
	cfg.AlistServers = []ServerConfig{{BaseURL: "https://alist.example.com"}}
	cfg.SyncGroups = []model.SyncGroup{validGroup("movies")}

	assert.NoError(t, cfg.Validate())
}

func TestServerFor(t *testing.T) {
	cfg := Default()
	cfg.AlistServers = []ServerConfig{
		{BaseURL: "https://alist.example.com"},
		{BaseURL: "https://other.example.com"},
	}

	s, ok := cfg.ServerFor("https://alist.example.com/movies/a.mkv")
	require.True(t, ok)
	assert.Equal(t, "https://alist.example.com", s.BaseURL)

	_, ok = cfg.ServerFor("https://unknown.example.com/x")
	assert.False(t, ok)
}
