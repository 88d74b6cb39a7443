package persidict

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// FileDict stores every key as one file in a directory tree:
// base/<seg1>_<digest>/.../<segN>_<digest>.<ext>
type FileDict struct {
	base string
	opts Options
}

var _ Dict = (*FileDict)(nil)

func NewFileDict(base string, opts Options) (*FileDict, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir %s: %w", abs, err)
	}
	return &FileDict{base: abs, opts: opts}, nil
}

func (d *FileDict) BaseDir() string  { return d.base }
func (d *FileDict) Immutable() bool  { return d.opts.Immutable }
func (d *FileDict) Options() Options { return d.opts }

// Path is the file that holds key.
func (d *FileDict) Path(key Key) string {
	return encodePath(d.base, key, d.opts.DigestLen) + "." + d.opts.Format.Ext()
}

func (d *FileDict) Contains(_ context.Context, key Key) (bool, error) {
	_, err := os.Stat(d.Path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (d *FileDict) Get(_ context.Context, key Key) (any, error) {
	b, err := os.ReadFile(d.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	v, err := d.opts.Format.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

func (d *FileDict) Set(ctx context.Context, key Key, value any) error {
	if d.opts.Immutable {
		if ok, err := d.Contains(ctx, key); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: can't overwrite %s", ErrImmutable, key)
		}
	}
	b, err := d.opts.Format.Marshal(value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return writeFileAtomic(d.Path(key), b)
}

func (d *FileDict) Delete(_ context.Context, key Key) error {
	if d.opts.Immutable {
		return fmt.Errorf("%w: can't delete %s", ErrImmutable, key)
	}
	path := d.Path(key)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return err
	}
	removeEmptyParents(path, d.base)
	return nil
}

// Mtime is the modification time of the file holding key.
func (d *FileDict) Mtime(_ context.Context, key Key) (time.Time, error) {
	fi, err := os.Stat(d.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (d *FileDict) Keys(_ context.Context) ([]Key, error) {
	ext := "." + d.opts.Format.Ext()
	var keys []Key
	err := filepath.WalkDir(d.base, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ext) {
			return nil
		}
		rel, err := filepath.Rel(d.base, strings.TrimSuffix(path, ext))
		if err != nil {
			return err
		}
		if key, ok := decodeKey(rel, d.opts.DigestLen); ok {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortKeys(keys)
	return keys, nil
}

func (d *FileDict) Len(ctx context.Context) (int, error)      { return length(ctx, d) }
func (d *FileDict) Values(ctx context.Context) ([]any, error) { return values(ctx, d) }
func (d *FileDict) Items(ctx context.Context) ([]Item, error) { return items(ctx, d) }

func (d *FileDict) Clear(ctx context.Context) error {
	if d.opts.Immutable {
		return fmt.Errorf("%w: can't clear %s", ErrImmutable, d.base)
	}
	keys, err := d.Keys(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, k := range keys {
		errs = multierr.Append(errs, d.Delete(ctx, k))
	}
	return errs
}

func (d *FileDict) SubDict(prefix Key) (Dict, error) {
	if _, err := NewKey(prefix); err != nil {
		return nil, err
	}
	return NewFileDict(encodePath(d.base, prefix, d.opts.DigestLen), d.opts)
}

func decodeKey(rel string, digestLen int) (Key, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	key := make(Key, len(parts))
	for i, p := range parts {
		seg, ok := decodeSegment(p, digestLen)
		if !ok {
			return nil, false
		}
		key[i] = seg
	}
	if _, err := NewKey(key); err != nil {
		return nil, false
	}
	return key, true
}
