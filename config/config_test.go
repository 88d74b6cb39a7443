package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladlpavlov/Pythagoras-sub001/config"
)

func writeFile(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "pythagoras.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAreValid(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Nil(t, cfg.PurityCheckP)

	cfg, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.BackendDir, cfg.Backend)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
backend: s3
storage:
  bucket: outputs
  endpoint: http://localhost:9000
retention: 3
purity_check_p: 0.25
cache:
  dir: /tmp/cache
  read: true
  write: false
  max_key_len: 120
worker_command: [./worker, --quiet]
`)
	t.Setenv("PYTHAGORAS_RETENTION", "5")
	t.Setenv("PYTHAGORAS_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.BackendS3, cfg.Backend)
	assert.Equal(t, "outputs", cfg.Storage.Bucket)
	assert.Equal(t, 5, cfg.Retention)
	require.NotNil(t, cfg.PurityCheckP)
	assert.Equal(t, 0.25, *cfg.PurityCheckP)
	assert.False(t, cfg.Cache.Write)
	assert.Equal(t, 120, cfg.Cache.MaxKeyLen)
	assert.Equal(t, []string{"./worker", "--quiet"}, cfg.WorkerCommand)
	assert.Equal(t, "debug", cfg.LogLevel)
	// untouched defaults survive
	assert.Equal(t, "gob", cfg.Format)
}

func TestLoad_EnvDisablesPurityCheck(t *testing.T) {
	path := writeFile(t, "purity_check_p: 1\n")
	t.Setenv("PYTHAGORAS_PURITY_CHECK_P", "off")
	t.Setenv("PYTHAGORAS_WORKER_COMMAND", "bin/worker run")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.PurityCheckP)
	assert.Equal(t, []string{"bin/worker", "run"}, cfg.WorkerCommand)
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "bakend: dir\n"))
		assert.Error(t, err)
	})
	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("PYTHAGORAS_CACHE_READ", "sometimes")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "PYTHAGORAS_CACHE_READ")
	})
	t.Run("every invalid field is reported", func(t *testing.T) {
		_, err := config.Load(writeFile(t, `
backend: gcs
format: json
retention: 0
purity_check_p: 2
log_level: loud
`))
		require.Error(t, err)
		for _, want := range []string{"bucket", "json", "retention", "purity_check_p", "loud"} {
			assert.ErrorContains(t, err, want)
		}
	})
}

func TestEnviron_RoundTripsThroughLoad(t *testing.T) {
	p := 0.5
	want := config.Default()
	want.Backend = config.BackendBadger
	want.BaseDir = t.TempDir()
	want.Retention = 7
	want.PurityCheckP = &p
	want.Cache.Write = false
	want.WorkerCommand = []string{"worker", "--quiet"}

	for _, kv := range want.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		require.True(t, ok)
		t.Setenv(k, v)
	}
	got, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
