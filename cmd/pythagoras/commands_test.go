package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladlpavlov/Pythagoras-sub001/address"
	"github.com/vladlpavlov/Pythagoras-sub001/cloud"
	"github.com/vladlpavlov/Pythagoras-sub001/config"
	"github.com/vladlpavlov/Pythagoras-sub001/memo"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pythagoras.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValues(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	cfg := config.Default()
	cfg.BaseDir = base
	c, err := cloud.New(ctx, cloud.Config{Config: cfg})
	require.NoError(t, err)
	addr, err := address.Push(ctx, c.Stores().Values, map[string]any{"answer": 42})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	path := writeConfig(t, "base_dir: "+base+"\nlog_level: error\n")
	out, err := run(t, "--config", path, "values", "ls")
	require.NoError(t, err)
	assert.Equal(t, addr.String(), strings.TrimSpace(out))

	out, err = run(t, "--config", path, "values", "get", addr.String())
	require.NoError(t, err)
	assert.Contains(t, out, "answer: 42")

	_, err = run(t, "--config", path, "values", "get", "not-an-address")
	assert.ErrorIs(t, err, address.ErrMalformed)
}

func TestLogs_Empty(t *testing.T) {
	path := writeConfig(t, "base_dir: "+t.TempDir()+"\nlog_level: error\n")
	for _, name := range []string{"events", "exceptions"} {
		out, err := run(t, "--config", path, name, "ls")
		require.NoError(t, err)
		assert.Empty(t, out)
	}
}

func TestMemoPurge(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cache, err := memo.New(dir)
	require.NoError(t, err)
	_, err = cache.Wrap("double", func(_ context.Context, kw memo.Kwargs) (any, error) {
		return kw["x"].(int) * 2, nil
	}).Call(ctx, memo.Kwargs{"x": 2})
	require.NoError(t, err)

	path := writeConfig(t, "log_level: error\n")
	_, err = run(t, "--config", path, "memo", "purge", dir)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		sub, err := os.ReadDir(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		assert.Empty(t, sub)
	}
}

func TestBadConfig(t *testing.T) {
	path := writeConfig(t, "no_such_option: 1\n")
	_, err := run(t, "--config", path, "values", "ls")
	assert.Error(t, err)
}
