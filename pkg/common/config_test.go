package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cm, err := NewConfigManager[types.AppConfig]()
	require.NoError(t, err)
	cfg := cm.GetConfig()

	assert.Equal(t, types.ModeRemote, cfg.Mode)
	assert.Equal(t, 1994, cfg.Gateway.HTTP.Port)
	assert.Equal(t, 2*time.Minute, cfg.OAuth.RefreshMargin)
	assert.Equal(t, 100, cfg.Sync.FullSyncLimit)
	assert.Equal(t, 280, cfg.Sync.PreviewLength)
	assert.Equal(t, []string{"offline_access", "Mail.Read", "User.Read"}, cfg.OAuth.Microsoft.Scopes)
	assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.Graph.BaseURL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAILSYNC_MODE", "local")
	t.Setenv("MAILSYNC_DATABASE__POSTGRES__SSLMODE", "require")
	t.Setenv("MAILSYNC_SYNC__INTERVAL", "30s")
	t.Setenv("MAILSYNC_SYNC__CONCURRENCY", "9")
	t.Setenv("MAILSYNC_DATABASE__REDIS__ADDRS", "a:6379, b:6379")
	t.Setenv("MAILSYNC_NOT__A__KEY", "ignored")

	cm, err := NewConfigManager[types.AppConfig]()
	require.NoError(t, err)
	cfg := cm.GetConfig()

	assert.True(t, cfg.IsLocalMode())
	assert.Equal(t, "require", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 9, cfg.Sync.Concurrency)
	assert.Equal(t, []string{"a:6379", "b:6379"}, cfg.Database.Redis.Addrs)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("graph:\n  pageSize: 10\nwebhooks:\n  clientState: abc\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cm, err := NewConfigManager[types.AppConfig]()
	require.NoError(t, err)
	cfg := cm.GetConfig()

	assert.Equal(t, 10, cfg.Graph.PageSize)
	assert.Equal(t, "abc", cfg.Webhooks.ClientState)
	assert.Equal(t, 30*time.Second, cfg.Graph.Timeout)
}

func TestConfigFileBadExtension(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "config.toml"))

	_, err := NewConfigManager[types.AppConfig]()
	assert.Error(t, err)
}
