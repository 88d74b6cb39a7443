package memo_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vladlpavlov/Pythagoras-sub001/log"
	"github.com/vladlpavlov/Pythagoras-sub001/memo"
	"github.com/vladlpavlov/Pythagoras-sub001/persidict"
)

func counted(calls *atomic.Int32) memo.Func {
	return func(_ context.Context, kw memo.Kwargs) (any, error) {
		calls.Add(1)
		return kw["a"].(int) + kw["b"].(int), nil
	}
}

func observed(t *testing.T) (context.Context, func() *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	ctx, teardown := log.WithZapLogEffectHandler(context.Background(), 16, zap.New(core))
	return ctx, func() *observer.ObservedLogs {
		teardown()
		return logs
	}
}

func entryFiles(t *testing.T, dir string) []string {
	files, err := filepath.Glob(filepath.Join(dir, "*", "*.*"))
	require.NoError(t, err)
	return files
}

type point struct{ X, Y int }

func init() { persidict.Register(point{}) }

// entrySource reads the source recorded in the only entry under dir.
func entrySource(t *testing.T, dir string, format persidict.Format) string {
	t.Helper()
	files := entryFiles(t, dir)
	require.Len(t, files, 1)
	d, err := persidict.NewFileDict(filepath.Dir(files[0]), persidict.Options{Format: format})
	require.NoError(t, err)
	values, err := d.Values(context.Background())
	require.NoError(t, err)
	require.Len(t, values, 1)
	switch v := values[0].(type) {
	case memo.Entry:
		return v.Source
	case map[string]any:
		src, _ := v["source"].(string)
		return src
	}
	t.Fatalf("unexpected entry %T", values[0])
	return ""
}

func TestCall_IsIdempotent(t *testing.T) {
	for _, format := range []persidict.Format{persidict.FormatYAML, persidict.FormatGob} {
		t.Run(string(format), func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			c, err := memo.New(dir, memo.WithFormat(format))
			require.NoError(t, err)

			var calls atomic.Int32
			add := c.Wrap("demo.add", counted(&calls))
			first, err := add.Call(ctx, memo.Kwargs{"a": 1, "b": 2})
			require.NoError(t, err)
			second, err := add.Call(ctx, memo.Kwargs{"a": 1, "b": 2})
			require.NoError(t, err)

			assert.Equal(t, 3, first)
			assert.Equal(t, first, second)
			assert.Equal(t, int32(1), calls.Load())
			assert.Len(t, entryFiles(t, dir), 1)
			assert.Equal(t, "demo.add", entrySource(t, dir, format))

			// a fresh cache over the same directory reuses the entry
			c2, err := memo.New(dir, memo.WithFormat(format))
			require.NoError(t, err)
			third, err := c2.Wrap("demo.add", counted(&calls)).Call(ctx, memo.Kwargs{"b": 2, "a": 1})
			require.NoError(t, err)
			assert.Equal(t, 3, third)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestCall_MissAndHitAgree(t *testing.T) {
	for _, format := range []persidict.Format{persidict.FormatGob, persidict.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			ctx := context.Background()
			c, err := memo.New(t.TempDir(), memo.WithFormat(format))
			require.NoError(t, err)
			at := c.Wrap("demo.at", func(_ context.Context, kw memo.Kwargs) (any, error) {
				return point{X: kw["x"].(int), Y: 2}, nil
			})
			first, err := at.Call(ctx, memo.Kwargs{"x": 1})
			require.NoError(t, err)
			second, err := at.Call(ctx, memo.Kwargs{"x": 1})
			require.NoError(t, err)
			assert.Equal(t, first, second)
			if format == persidict.FormatGob {
				assert.Equal(t, point{X: 1, Y: 2}, first)
			}
		})
	}
}

func TestCall_KeyDependsOnArgumentsNotOrder(t *testing.T) {
	ctx := context.Background()
	c, err := memo.New(t.TempDir())
	require.NoError(t, err)
	var calls atomic.Int32
	add := c.Wrap("demo.add", counted(&calls))

	kw1 := memo.Kwargs{}
	kw1["a"], kw1["b"] = 1, 2
	kw2 := memo.Kwargs{}
	kw2["b"], kw2["a"] = 2, 1
	_, err = add.Call(ctx, kw1)
	require.NoError(t, err)
	_, err = add.Call(ctx, kw2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	out, err := add.Call(ctx, memo.Kwargs{"a": 2, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, 4, out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCall_FunctionsDoNotShareEntries(t *testing.T) {
	ctx := context.Background()
	c, err := memo.New(t.TempDir())
	require.NoError(t, err)
	var calls atomic.Int32
	_, err = c.Wrap("a.f", counted(&calls)).Call(ctx, memo.Kwargs{"a": 1, "b": 1})
	require.NoError(t, err)
	_, err = c.Wrap("b.f", counted(&calls)).Call(ctx, memo.Kwargs{"a": 1, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCall_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := memo.New(dir)
	require.NoError(t, err)
	boom := errors.New("boom")
	var calls atomic.Int32
	f := c.Wrap("demo.fail", func(context.Context, memo.Kwargs) (any, error) {
		calls.Add(1)
		return nil, boom
	})
	for range 2 {
		_, err = f.Call(ctx, nil)
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, entryFiles(t, dir))
}

func TestCall_WarnsWhenReplayIsNotWorthIt(t *testing.T) {
	dir := t.TempDir()
	c, err := memo.New(dir, memo.WithFormat(persidict.FormatYAML))
	require.NoError(t, err)
	var calls atomic.Int32
	add := c.Wrap("demo.add", counted(&calls))
	_, err = add.Call(context.Background(), memo.Kwargs{"a": 1, "b": 2})
	require.NoError(t, err)

	files := entryFiles(t, dir)
	require.Len(t, files, 1)
	require.NoError(t, os.WriteFile(files[0], []byte("data: 3\ncost_in_seconds: 0.000000001\nsource: \"\"\n"), 0o644))

	ctx, logs := observed(t)
	out, err := add.Call(ctx, memo.Kwargs{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, 3, out)
	assert.Equal(t, 1, logs().FilterMessage("cache not worth it").Len())
}

func TestCall_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := memo.New(dir, memo.WithFormat(persidict.FormatYAML))
	require.NoError(t, err)
	var calls atomic.Int32
	add := c.Wrap("demo.add", counted(&calls))
	_, err = add.Call(ctx, memo.Kwargs{"a": 1, "b": 2})
	require.NoError(t, err)

	files := entryFiles(t, dir)
	require.Len(t, files, 1)
	require.NoError(t, os.WriteFile(files[0], []byte("data: 3\ncost_in_seconds: 0\n"), 0o644))
	_, err = add.Call(ctx, memo.Kwargs{"a": 1, "b": 2})
	assert.ErrorIs(t, err, memo.ErrCorruptEntry)

	require.NoError(t, os.WriteFile(files[0], []byte("[not, an, entry]\n"), 0o644))
	_, err = add.Call(ctx, memo.Kwargs{"a": 1, "b": 2})
	assert.ErrorIs(t, err, memo.ErrCorruptEntry)
}

func TestCall_WarnsOnNilResult(t *testing.T) {
	ctx, logs := observed(t)
	c, err := memo.New(t.TempDir())
	require.NoError(t, err)
	out, err := c.Wrap("demo.nothing", func(context.Context, memo.Kwargs) (any, error) {
		return nil, nil
	}).Call(ctx, memo.Kwargs{"x": 1})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 1, logs().FilterMessage("function returned nil").Len())
}

type settings struct{ read, write *bool }

func (s settings) CacheFlags() memo.Flags { return memo.Flags{Read: s.read, Write: s.write} }

func TestCall_FlagResolution(t *testing.T) {
	ctx := context.Background()
	no := false
	yes := true

	t.Run("receiver disables writes", func(t *testing.T) {
		dir := t.TempDir()
		c, err := memo.New(dir)
		require.NoError(t, err)
		var calls atomic.Int32
		add := c.Wrap("demo.add", counted(&calls))
		_, err = add.Call(ctx, memo.Kwargs{"a": 1, "b": 1}, memo.WithReceiver(settings{write: &no}))
		require.NoError(t, err)
		assert.Empty(t, entryFiles(t, dir))
	})

	t.Run("call site beats receiver", func(t *testing.T) {
		dir := t.TempDir()
		c, err := memo.New(dir)
		require.NoError(t, err)
		var calls atomic.Int32
		add := c.Wrap("demo.add", counted(&calls))
		_, err = add.Call(ctx, memo.Kwargs{"a": 1, "b": 1},
			memo.WithReceiver(settings{write: &no}), memo.WithWrite(true))
		require.NoError(t, err)
		assert.Len(t, entryFiles(t, dir), 1)
	})

	t.Run("receiver beats defaults", func(t *testing.T) {
		dir := t.TempDir()
		c, err := memo.New(dir, memo.WithDefaults(false, false))
		require.NoError(t, err)
		var calls atomic.Int32
		add := c.Wrap("demo.add", counted(&calls))
		for range 2 {
			_, err = add.Call(ctx, memo.Kwargs{"a": 1, "b": 1}, memo.WithReceiver(settings{read: &yes, write: &yes}))
			require.NoError(t, err)
		}
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("read disabled recomputes", func(t *testing.T) {
		c, err := memo.New(t.TempDir())
		require.NoError(t, err)
		var calls atomic.Int32
		add := c.Wrap("demo.add", counted(&calls))
		for range 3 {
			_, err = add.Call(ctx, memo.Kwargs{"a": 1, "b": 1}, memo.WithRead(false))
			require.NoError(t, err)
		}
		assert.Equal(t, int32(3), calls.Load())
	})
}

type node struct {
	Next    *node
	NoCache bool
}

func TestCall_UncacheableMarkerOptsOut(t *testing.T) {
	dir := t.TempDir()
	c, err := memo.New(dir, memo.WithUncacheable("NoCache", true))
	require.NoError(t, err)
	var calls atomic.Int32
	f := c.Wrap("demo.walk", func(context.Context, memo.Kwargs) (any, error) {
		calls.Add(1)
		return "ok", nil
	})

	// the marker sits behind a cycle, which also makes the arguments unfingerprintable
	inner := &node{NoCache: true}
	outer := &node{Next: inner}
	inner.Next = outer

	ctx, logs := observed(t)
	for range 2 {
		out, err := f.Call(ctx, memo.Kwargs{"tree": outer})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, entryFiles(t, dir))
	assert.Equal(t, 2, logs().FilterMessage("uncacheable argument, caching disabled for this call").Len())

	_, err = f.Call(context.Background(), memo.Kwargs{"cfg": map[string]any{"NoCache": true}})
	require.NoError(t, err)
	assert.Empty(t, entryFiles(t, dir))

	inner.NoCache = false
	_, err = f.Call(context.Background(), memo.Kwargs{"tree": outer})
	assert.Error(t, err, "cyclic arguments without the marker must fail to fingerprint")
}

func TestCall_LongKeysAreTruncated(t *testing.T) {
	dir := t.TempDir()
	c, err := memo.New(dir, memo.WithMaxKeyLen(60), memo.WithFormat(persidict.FormatYAML))
	require.NoError(t, err)
	echo := c.Wrap("demo.echo", func(_ context.Context, kw memo.Kwargs) (any, error) {
		return len(kw), nil
	})
	kw := memo.Kwargs{}
	for _, k := range []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"} {
		kw[k] = strings.Repeat(k, 3)
	}
	_, err = echo.Call(context.Background(), kw)
	require.NoError(t, err)
	kw["zeta"] = "other"
	_, err = echo.Call(context.Background(), kw)
	require.NoError(t, err)

	files := entryFiles(t, dir)
	require.Len(t, files, 2)
	for _, f := range files {
		assert.LessOrEqual(t, len(strings.TrimSuffix(filepath.Base(f), ".yaml")), 60)
	}
}

func TestTyped(t *testing.T) {
	c, err := memo.New(t.TempDir())
	require.NoError(t, err)
	var calls atomic.Int32
	add := memo.Typed[int](c.Wrap("demo.add", counted(&calls)))
	n, err := add(context.Background(), memo.Kwargs{"a": 20, "b": 22})
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = add(context.Background(), memo.Kwargs{"a": 20, "b": 22})
	require.NoError(t, err, "replayed from the cache")
	assert.Equal(t, 42, n)
	assert.Equal(t, int32(1), calls.Load())

	wide := memo.Typed[int64](c.Wrap("demo.wide", func(_ context.Context, kw memo.Kwargs) (any, error) {
		return int64(kw["a"].(int)) << 40, nil
	}))
	for range 2 {
		v, err := wide(context.Background(), memo.Kwargs{"a": 3})
		require.NoError(t, err)
		assert.Equal(t, int64(3)<<40, v)
	}

	asString := memo.Typed[string](c.Wrap("demo.add", counted(&calls)))
	_, err = asString(context.Background(), memo.Kwargs{"a": 20, "b": 22})
	assert.Error(t, err)
}

func TestWrapReader_StalenessFollowsFileMetadata(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := memo.New(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	path := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))

	var calls atomic.Int32
	read := c.WrapReader("demo.read", func(_ context.Context, path string, _ memo.Kwargs) (any, error) {
		calls.Add(1)
		b, err := os.ReadFile(path)
		return string(b), err
	})

	out, err := read.Call(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "one", out)
	out, err = read.Call(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "one", out)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, os.WriteFile(path, []byte("three"), 0o644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	out, err = read.Call(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "three", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWrapReader_WarnsOnEmptyInput(t *testing.T) {
	dir := t.TempDir()
	c, err := memo.New(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ctx, logs := observed(t)
	_, err = c.WrapReader("demo.size", func(context.Context, string, memo.Kwargs) (any, error) {
		return 0, nil
	}).Call(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, logs().FilterMessage("input file is empty").Len())

	_, err = c.WrapReader("demo.size", nil).Call(context.Background(), filepath.Join(dir, "missing"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := memo.New(dir)
	require.NoError(t, err)
	var calls atomic.Int32
	add := c.Wrap("demo.add", counted(&calls))
	_, err = add.Call(ctx, memo.Kwargs{"a": 1, "b": 2})
	require.NoError(t, err)
	require.NoError(t, c.Purge(ctx))
	assert.Empty(t, entryFiles(t, dir))
	_, err = add.Call(ctx, memo.Kwargs{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
