package config

import (
	"aurorarest/internal/apperrors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aurora-rest.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Port)
	assert.Equal(t, 9090, cfg.MetricsPort)
	assert.Equal(t, "alpha", cfg.URLPrefix)
	assert.Equal(t, 5*time.Second, cfg.ShutdownDrainWait)
	assert.Equal(t, "external", cfg.Executor)
	assert.Equal(t, "process", cfg.Concurrency)
	assert.Equal(t, 0, cfg.Parallel)
	assert.Equal(t, 0, cfg.MaxPending)
	assert.Equal(t, "aurora", cfg.AuroraCmd)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, ":8888", cfg.Addr())
	assert.Equal(t, ":9090", cfg.MetricsAddr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"concurrency": "thread",
		"parallel": 4,
		"shutdown_drain_wait": "250ms",
		"url_prefix": "beta"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "thread", cfg.Concurrency)
	assert.Equal(t, 4, cfg.Parallel)
	assert.Equal(t, 250*time.Millisecond, cfg.ShutdownDrainWait)
	assert.Equal(t, "beta", cfg.URLPrefix)
	assert.Equal(t, 9090, cfg.MetricsPort)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"concurrency": "thread", "parallel": 4}`)
	t.Setenv("AURORA_REST_CONCURRENCY", "coroutine")
	t.Setenv("AURORA_REST_MAX_PENDING", "32")
	t.Setenv("AURORA_REST_METRICS_PORT", "0")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "coroutine", cfg.Concurrency)
	assert.Equal(t, 4, cfg.Parallel)
	assert.Equal(t, 32, cfg.MaxPending)
	assert.Empty(t, cfg.MetricsAddr())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		body string
	}{
		{name: "unknown strategy", env: map[string]string{"AURORA_REST_CONCURRENCY": "fibers"}},
		{name: "unknown executor", env: map[string]string{"AURORA_REST_EXECUTOR": "internal"}},
		{name: "negative parallel", env: map[string]string{"AURORA_REST_PARALLEL": "-1"}},
		{name: "negative max pending", body: `{"max_pending": -5}`},
		{name: "docker without image", env: map[string]string{"AURORA_REST_EXECUTOR": "docker"}},
		{name: "bad port", env: map[string]string{"AURORA_REST_PORT": "not-a-port"}},
		{name: "bad log level", body: `{"log_level": "verbose"}`},
		{name: "unknown key", body: `{"workers": 3}`},
		{name: "malformed json", body: `{"port": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}

			cfg, err := Load(path)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.ErrorIs(t, err, apperrors.ErrConfig)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoad_APIKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "api-key")
	require.NoError(t, os.WriteFile(keyPath, []byte("s3cret\n"), 0o600))
	t.Setenv("AURORA_REST_API_KEY_FILE", keyPath)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.APIKey)
}

func TestLoad_APIKeyFileMissing(t *testing.T) {
	t.Setenv("AURORA_REST_API_KEY_FILE", filepath.Join(t.TempDir(), "missing"))

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestLoad_DockerExecutor(t *testing.T) {
	t.Setenv("AURORA_REST_EXECUTOR", "docker")
	t.Setenv("AURORA_REST_DOCKER_IMAGE", "aurora-client:latest")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "docker", cfg.Executor)
	assert.Equal(t, "aurora-client:latest", cfg.DockerImage)
}
