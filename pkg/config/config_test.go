package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 5, cfg.Pipeline.Concurrency)
	assert.Equal(t, 10, cfg.Pipeline.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.FlushWaitTimeout)
	assert.Equal(t, 1, cfg.Pipeline.FinalRetryAttempts)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "rapidphotoflow", cfg.Storage.Folder)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Database.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("STORAGE_TYPE", "s3")
	t.Setenv("STORAGE_BUCKET", "photos")
	t.Setenv("PIPELINE_BATCH_SIZE", "25")
	t.Setenv("PIPELINE_FLUSH_WAIT_TIMEOUT", "3s")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("DB_ENABLED", "yes-please")
	t.Setenv("REGISTRY_BASE_URL", "http://backend:8080")

	cfg := LoadFromEnv()

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "photos", cfg.Storage.Bucket)
	assert.Equal(t, 25, cfg.Pipeline.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.FlushWaitTimeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Database.Enabled, "unparsable bool keeps the default")
	assert.Equal(t, "http://backend:8080", cfg.Registry.BaseURL)
	assert.Equal(t, 5, cfg.Pipeline.Concurrency)
}

func TestLoadFromEnv_InvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("PIPELINE_FLUSH_WAIT_TIMEOUT", "ten seconds")

	cfg := LoadFromEnv()
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.FlushWaitTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photoflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  type: http
  cloud_name: demo
  upload_preset: unsigned
pipeline:
  concurrency: 3
  flush_wait_timeout: 5s
database:
  enabled: true
  driver: sqlite
logging:
  level: debug
`), 0o644))

	t.Setenv("PIPELINE_CONCURRENCY", "8")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Storage.Type)
	assert.Equal(t, "demo", cfg.Storage.CloudName)
	assert.Equal(t, "unsigned", cfg.Storage.UploadPreset)
	assert.Equal(t, 8, cfg.Pipeline.Concurrency, "env wins over file")
	assert.Equal(t, 5*time.Second, cfg.Pipeline.FlushWaitTimeout)
	assert.Equal(t, 10, cfg.Pipeline.BatchSize, "unset keys keep defaults")
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: [unclosed"), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoad_UsesConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photoflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  batch_size: 4\n"), 0o644))
	t.Setenv("PHOTOFLOW_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pipeline.BatchSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero concurrency", func(c *Config) { c.Pipeline.Concurrency = 0 }, true},
		{"zero batch size", func(c *Config) { c.Pipeline.BatchSize = 0 }, true},
		{"negative final retries", func(c *Config) { c.Pipeline.FinalRetryAttempts = -1 }, true},
		{"no registry", func(c *Config) { c.Registry.BaseURL = "" }, true},
		{"no final retries", func(c *Config) { c.Pipeline.FinalRetryAttempts = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestAddresses(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "0.0.0.0:8090", cfg.Server.Addr())
	assert.Equal(t, "localhost:6379", cfg.Redis.RedisAddr())
	assert.Equal(t, "host=localhost port=5432 user=photoflow password=password dbname=photoflow sslmode=disable", cfg.Database.DatabaseURL())
}

func TestSetupLogging(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	(&LoggingConfig{Level: "warn", Format: "console"}).SetupLogging()
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	(&LoggingConfig{Level: "nonsense"}).SetupLogging()
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
