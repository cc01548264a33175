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
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1:9000", cfg.Daemon.Addr)
	assert.Equal(t, 1, cfg.Pool.MaxConcurrency)
	assert.Equal(t, 3*time.Second, cfg.Watcher.ActionThrottle)
}

func TestLoadFromFileOverridesOnlyMentionedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"daemon":{"addr":"0.0.0.0:9001"}}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9001", cfg.Daemon.Addr)
	assert.Equal(t, 1, cfg.Pool.MaxConcurrency, "unmentioned fields keep their default")
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("LAMBDALOCAL_ADDR", "0.0.0.0:8080")
	t.Setenv("LAMBDALOCAL_MAX_CONCURRENCY", "4")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "0.0.0.0:8080", cfg.Daemon.Addr)
	assert.Equal(t, 4, cfg.Pool.MaxConcurrency)
}

func TestLoadFromEnvMergesCargoLambdaIgnoreFiles(t *testing.T) {
	sep := string(os.PathListSeparator)
	t.Setenv("LAMBDALOCAL_IGNORE_FILES", "a.ignore")
	t.Setenv("CARGO_LAMBDA_IGNORE_FILES", "b.ignore"+sep+"c.ignore")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, []string{"a.ignore", "b.ignore", "c.ignore"}, cfg.Watcher.IgnoreFiles)
}
