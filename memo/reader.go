package memo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vladlpavlov/Pythagoras-sub001/log"
)

// ReaderFunc loads something from the file at path.
type ReaderFunc func(ctx context.Context, path string, kw Kwargs) (any, error)

// WrappedReader is a memoized file reader. The file's size and modification
// time are part of the key, so edits to the file miss the cache.
type WrappedReader struct {
	cache *Cache
	name  string
	fn    ReaderFunc
}

func (c *Cache) WrapReader(name string, fn ReaderFunc) *WrappedReader {
	return &WrappedReader{cache: c, name: name, fn: fn}
}

func (r *WrappedReader) Name() string { return r.name }

func (r *WrappedReader) Call(ctx context.Context, path string, kw Kwargs, opts ...CallOption) (any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %s is a directory", r.name, path)
	}
	if info.Size() == 0 {
		log.LogEff(ctx, log.LogWarn, "input file is empty", map[string]interface{}{
			"function": r.name,
			"file":     path,
		})
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	stat := []string{
		"file-" + filepath.Base(path),
		"size" + strconv.FormatInt(info.Size(), 10),
		"mt" + strconv.FormatInt(info.ModTime().UnixNano(), 10),
	}
	return r.cache.invoke(ctx, invocation{
		name:      r.name,
		kw:        kw,
		slimExtra: stat,
		fpExtra:   []string{abs},
		source:    abs,
		run:       func(ctx context.Context) (any, error) { return r.fn(ctx, path, kw) },
	}, opts)
}
