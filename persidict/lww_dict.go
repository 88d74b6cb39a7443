package persidict

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const stampLayout = "20060102T150405.000000000Z"

// LWWDict is a last-write-wins store. Each key is a directory and every Set
// adds a new timestamp-named version file instead of overwriting; Get returns
// the newest version. At most Retention versions are kept, older ones are
// removed on the next access to the key.
type LWWDict struct {
	base      string
	opts      Options
	retention int

	mu        sync.Mutex
	lastStamp time.Time
}

var _ Dict = (*LWWDict)(nil)

// NewLWWDict creates a versioned dict keeping retention versions per key.
func NewLWWDict(base string, opts Options, retention int) (*LWWDict, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if retention < 1 {
		return nil, fmt.Errorf("retention must be positive, got %d", retention)
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir %s: %w", abs, err)
	}
	return &LWWDict{base: abs, opts: opts, retention: retention}, nil
}

func (d *LWWDict) BaseDir() string { return d.base }
func (d *LWWDict) Immutable() bool { return d.opts.Immutable }
func (d *LWWDict) Retention() int  { return d.retention }

func (d *LWWDict) keyDir(key Key) string {
	return encodePath(d.base, key, d.opts.DigestLen)
}

// Versions lists the version files of key, oldest first.
func (d *LWWDict) Versions(_ context.Context, key Key) ([]string, error) {
	return d.versions(d.keyDir(key))
}

func (d *LWWDict) versions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ext := "." + d.opts.Format.Ext()
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		if _, ok := parseStamp(e.Name()); ok {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// newest returns the newest version file of key after pruning history
// beyond the retention count.
func (d *LWWDict) newest(key Key) (string, error) {
	vs, err := d.versions(d.keyDir(key))
	if err != nil {
		return "", err
	}
	if len(vs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if excess := len(vs) - d.retention; excess > 0 {
		var errs error
		for _, v := range vs[:excess] {
			if err := os.Remove(v); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = multierr.Append(errs, err)
			}
		}
		if errs != nil {
			return "", fmt.Errorf("prune versions of %s: %w", key, errs)
		}
	}
	return vs[len(vs)-1], nil
}

func (d *LWWDict) Contains(_ context.Context, key Key) (bool, error) {
	_, err := d.newest(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *LWWDict) Get(_ context.Context, key Key) (any, error) {
	path, err := d.newest(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		// pruned or deleted by a concurrent writer between listing and reading
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

// Mtimestamp is the write time of the newest version of key.
func (d *LWWDict) Mtimestamp(_ context.Context, key Key) (time.Time, error) {
	path, err := d.newest(key)
	if err != nil {
		return time.Time{}, err
	}
	ts, _ := parseStamp(filepath.Base(path))
	return ts, nil
}

func (d *LWWDict) Set(ctx context.Context, key Key, value any) error {
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
	name := d.nextStamp().Format(stampLayout) + "_" + uuid.NewString()[:8] + "." + d.opts.Format.Ext()
	if err := writeFileAtomic(filepath.Join(d.keyDir(key), name), b); err != nil {
		return err
	}
	_, err = d.newest(key)
	return err
}

// nextStamp is strictly increasing within one process, so versions written
// back to back never share a timestamp.
func (d *LWWDict) nextStamp() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(d.lastStamp) {
		now = d.lastStamp.Add(time.Nanosecond)
	}
	d.lastStamp = now
	return now
}

func (d *LWWDict) Delete(_ context.Context, key Key) error {
	if d.opts.Immutable {
		return fmt.Errorf("%w: can't delete %s", ErrImmutable, key)
	}
	dir := d.keyDir(key)
	vs, err := d.versions(dir)
	if err != nil {
		return err
	}
	if len(vs) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	var errs error
	for _, v := range vs {
		if err := os.Remove(v); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return errs
	}
	// the directory may still hold nested keys
	if err := os.Remove(dir); err == nil {
		removeEmptyParents(dir, d.base)
	}
	return nil
}

func (d *LWWDict) Keys(_ context.Context) ([]Key, error) {
	var keys []Key
	err := filepath.WalkDir(d.base, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !e.IsDir() || path == d.base {
			return nil
		}
		vs, err := d.versions(path)
		if err != nil || len(vs) == 0 {
			return err
		}
		rel, err := filepath.Rel(d.base, path)
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

func (d *LWWDict) Len(ctx context.Context) (int, error)      { return length(ctx, d) }
func (d *LWWDict) Values(ctx context.Context) ([]any, error) { return values(ctx, d) }
func (d *LWWDict) Items(ctx context.Context) ([]Item, error) { return items(ctx, d) }

func (d *LWWDict) Clear(ctx context.Context) error {
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

func (d *LWWDict) SubDict(prefix Key) (Dict, error) {
	if _, err := NewKey(prefix); err != nil {
		return nil, err
	}
	return NewLWWDict(d.keyDir(prefix), d.opts, d.retention)
}

func parseStamp(name string) (time.Time, bool) {
	if len(name) < len(stampLayout) {
		return time.Time{}, false
	}
	ts, err := time.Parse(stampLayout, name[:len(stampLayout)])
	return ts, err == nil
}
