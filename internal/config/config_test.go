package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "none", cfg.Blob.Driver)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	require.Equal(t, 8*time.Second, cfg.Retry.MaxDelay)
	require.Equal(t, "/v0", cfg.Server.BasePath)
	require.True(t, cfg.Sync.OnReconnect)
	require.False(t, cfg.Server.DevLogin)
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte(`
remote:
  base_url: https://api.example.com
blob:
  driver: minio
  endpoint: localhost:9000
  bucket: media
  public_base_url: https://cdn.example.com/media
retry:
  max_attempts: 5
webhooks:
  - url: https://hooks.example.com/fieldline
    events: [sync.run]
`))
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
	require.Equal(t, 15*time.Second, cfg.Remote.Timeout)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.Equal(t, 0.2, cfg.Retry.Jitter)
	require.Equal(t, "us-east-1", cfg.Blob.Region)
	require.Len(t, cfg.Webhooks, 1)
	require.Equal(t, []string{"sync.run"}, cfg.Webhooks[0].Events)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"bad remote url":      {func(c *Config) { c.Remote.BaseURL = "ftp://x" }, "remote.base_url"},
		"unknown driver":      {func(c *Config) { c.Blob.Driver = "gcs" }, "blob.driver"},
		"s3 without bucket":   {func(c *Config) { c.Blob.Driver = "s3" }, "blob.bucket"},
		"minio no endpoint":   {func(c *Config) { c.Blob.Driver = "minio"; c.Blob.Bucket = "b" }, "blob.endpoint"},
		"zero attempts":       {func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		"max below base":      {func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, "delays"},
		"jitter out of range": {func(c *Config) { c.Retry.Jitter = 1 }, "jitter"},
		"negative rate":       {func(c *Config) { c.Sync.UploadsPerSecond = -1 }, "sync"},
		"bad log level":       {func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		"webhook without url": {func(c *Config) { c.Webhooks = []WebhookConfig{{}} }, "webhooks[0].url"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestFromYAMLInvalid(t *testing.T) {
	_, err := FromYAML([]byte("retry: [1, 2"))
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "invalid config yaml"))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fieldline.yml"), []byte("workflow:\n  require_video: true\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.True(t, cfg.Workflow.RequireVideo)

	out, err := cfg.YAML()
	require.NoError(t, err)
	require.Contains(t, out, "require_video: true")
	require.Contains(t, out, "base_delay: 500ms")
}
