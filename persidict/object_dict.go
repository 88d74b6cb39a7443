package persidict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// ObjectDict keeps values in an ObjectStore. Every read and write stages
// through a scratch file under a local directory. In immutable mode the local
// copy doubles as a cache: a key already present locally is read without a
// remote round-trip.
type ObjectDict struct {
	store    ObjectStore
	root     string
	localDir string
	opts     Options
}

var _ Dict = (*ObjectDict)(nil)

// NewObjectDict stores objects under root inside store, staging through localDir.
func NewObjectDict(store ObjectStore, root, localDir string, opts Options) (*ObjectDict, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	root = strings.Trim(root, "/")
	if root == "" {
		return nil, errors.New("object dict root is required")
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir %s: %w", localDir, err)
	}
	return &ObjectDict{store: store, root: root, localDir: localDir, opts: opts}, nil
}

func (d *ObjectDict) Immutable() bool { return d.opts.Immutable }

func (d *ObjectDict) objectName(key Key) string {
	return d.root + "/" + path.Join(key...) + "." + d.opts.Format.Ext()
}

func (d *ObjectDict) localPath(key Key) string {
	return filepath.Join(d.localDir, filepath.FromSlash(d.objectName(key)))
}

func (d *ObjectDict) Contains(ctx context.Context, key Key) (bool, error) {
	if d.opts.Immutable {
		if _, err := os.Stat(d.localPath(key)); err == nil {
			return true, nil
		}
	}
	return d.store.Exists(ctx, d.objectName(key))
}

func (d *ObjectDict) Get(ctx context.Context, key Key) (any, error) {
	local := d.localPath(key)
	if !d.opts.Immutable {
		if err := d.download(ctx, key, local); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(local); errors.Is(err, fs.ErrNotExist) {
		if err := d.download(ctx, key, local); err != nil {
			return nil, err
		}
	}
	b, err := os.ReadFile(local)
	if err != nil {
		return nil, err
	}
	v, err := d.opts.Format.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

func (d *ObjectDict) download(ctx context.Context, key Key, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(local), ".tmp-"+uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = d.store.Get(ctx, d.objectName(key), f)
	err = multierr.Append(err, f.Close())
	if err != nil {
		_ = os.Remove(tmp)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return err
	}
	return os.Rename(tmp, local)
}

func (d *ObjectDict) Set(ctx context.Context, key Key, value any) error {
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
	// The local copy is written only once the upload succeeded; in immutable
	// mode its presence alone answers Contains.
	if err := d.store.Put(ctx, d.objectName(key), bytes.NewReader(b), int64(len(b))); err != nil {
		return err
	}
	return writeFileAtomic(d.localPath(key), b)
}

func (d *ObjectDict) Delete(ctx context.Context, key Key) error {
	if d.opts.Immutable {
		return fmt.Errorf("%w: can't delete %s", ErrImmutable, key)
	}
	ok, err := d.store.Exists(ctx, d.objectName(key))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := os.Remove(d.localPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return d.store.Delete(ctx, d.objectName(key))
}

func (d *ObjectDict) Keys(ctx context.Context) ([]Key, error) {
	prefix := d.root + "/"
	ext := "." + d.opts.Format.Ext()
	names, err := d.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]Key, 0, len(names))
	for _, n := range names {
		if !strings.HasSuffix(n, ext) {
			continue
		}
		key, err := NewKey(strings.Split(strings.TrimSuffix(strings.TrimPrefix(n, prefix), ext), "/"))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys, nil
}

func (d *ObjectDict) Len(ctx context.Context) (int, error)      { return length(ctx, d) }
func (d *ObjectDict) Values(ctx context.Context) ([]any, error) { return values(ctx, d) }
func (d *ObjectDict) Items(ctx context.Context) ([]Item, error) { return items(ctx, d) }

func (d *ObjectDict) Clear(ctx context.Context) error {
	if d.opts.Immutable {
		return fmt.Errorf("%w: can't clear %s", ErrImmutable, d.root)
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

func (d *ObjectDict) SubDict(prefix Key) (Dict, error) {
	if _, err := NewKey(prefix); err != nil {
		return nil, err
	}
	return NewObjectDict(d.store, d.root+"/"+path.Join(prefix...), d.localDir, d.opts)
}
