package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Fetch.Workers != 2 {
		t.Errorf("Expected default workers to be 2, got %d", config.Fetch.Workers)
	}

	if config.Pool.TempBlockWindow != 12*time.Hour {
		t.Errorf("Expected default temp block window to be 12h, got %s", config.Pool.TempBlockWindow)
	}

	if !config.Fetch.StopOnKnownPage {
		t.Error("Expected stop_on_known_page to default to true")
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("IGCOLLECTOR_BASE_URL", "http://127.0.0.1:9000")
	t.Setenv("IGCOLLECTOR_MAX_ATTEMPTS", "4")
	t.Setenv("IGCOLLECTOR_TEMP_BLOCK_WINDOW", "30m")
	t.Setenv("IGCOLLECTOR_WORKERS", "3")
	t.Setenv("IGCOLLECTOR_STOP_ON_KNOWN_PAGE", "false")
	t.Setenv("IGCOLLECTOR_DB_PATH", "/tmp/igc.db")
	t.Setenv("IGCOLLECTOR_LOG_LEVEL", "debug")

	config := DefaultConfig()
	require.NoError(t, config.LoadFromEnv())

	assert.Equal(t, "http://127.0.0.1:9000", config.Platform.BaseURL)
	assert.Equal(t, 4, config.Pool.MaxAttempts)
	assert.Equal(t, 30*time.Minute, config.Pool.TempBlockWindow)
	assert.Equal(t, 3, config.Fetch.Workers)
	assert.False(t, config.Fetch.StopOnKnownPage)
	assert.Equal(t, "/tmp/igc.db", config.Database.Path)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("IGCOLLECTOR_WORKERS", "two")
	t.Setenv("IGCOLLECTOR_RETRY_DELAY", "soon")

	config := DefaultConfig()
	err := config.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IGCOLLECTOR_WORKERS")
	assert.Contains(t, err.Error(), "IGCOLLECTOR_RETRY_DELAY")
	assert.Equal(t, 2, config.Fetch.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError bool
	}{
		{
			name:      "valid config",
			mutate:    func(c *Config) {},
			wantError: false,
		},
		{
			name:      "too many workers",
			mutate:    func(c *Config) { c.Fetch.Workers = 15 },
			wantError: true,
		},
		{
			name:      "zero workers",
			mutate:    func(c *Config) { c.Fetch.Workers = 0 },
			wantError: true,
		},
		{
			name:      "negative max attempts",
			mutate:    func(c *Config) { c.Pool.MaxAttempts = -1 },
			wantError: true,
		},
		{
			name:      "missing temp block window",
			mutate:    func(c *Config) { c.Pool.TempBlockWindow = 0 },
			wantError: true,
		},
		{
			name:      "unknown vault backend",
			mutate:    func(c *Config) { c.Vault.Backend = "s3" },
			wantError: true,
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.Logging.Level = "verbose" },
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	original := DefaultConfig()
	original.Fetch.MaxPages = 7
	original.Pool.SweepSchedule = "@every 1m"
	original.Database.Path = "/var/lib/igc.db"
	require.NoError(t, original.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, 7, loaded.Fetch.MaxPages)
	assert.Equal(t, "@every 1m", loaded.Pool.SweepSchedule)
	assert.Equal(t, "/var/lib/igc.db", loaded.Database.Path)
}

func TestLoadFromFileMissing(t *testing.T) {
	config := DefaultConfig()
	err := config.LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
fetch:
  workers: 3
  max_pages: 5
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))

	t.Setenv("IGCOLLECTOR_WORKERS", "4")

	config, err := Load(path, map[string]interface{}{
		"max-pages": 9,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, config.Fetch.Workers, "env overrides file")
	assert.Equal(t, 9, config.Fetch.MaxPages, "flags override file")
	assert.Equal(t, "warn", config.Logging.Level, "file overrides defaults")
}
