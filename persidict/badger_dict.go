package persidict

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDict keeps values in an embedded badger database. Keys are stored
// as their '/'-joined segments, so a SubDict is a key prefix.
type BadgerDict struct {
	db     *badger.DB
	prefix string
	opts   Options
}

var _ Dict = (*BadgerDict)(nil)

// OpenBadger opens (or creates) a badger database in dir. An empty dir opens
// an in-memory database.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return db, nil
}

func NewBadgerDict(db *badger.DB, opts Options) (*BadgerDict, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &BadgerDict{db: db, opts: opts}, nil
}

func (d *BadgerDict) Immutable() bool { return d.opts.Immutable }

func (d *BadgerDict) dbKey(key Key) []byte {
	return []byte(d.prefix + strings.Join(key, "/"))
}

func (d *BadgerDict) Contains(_ context.Context, key Key) (bool, error) {
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(d.dbKey(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *BadgerDict) Get(_ context.Context, key Key) (any, error) {
	var raw []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(d.dbKey(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	v, err := d.opts.Format.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

func (d *BadgerDict) Set(_ context.Context, key Key, value any) error {
	b, err := d.opts.Format.Marshal(value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return d.db.Update(func(txn *badger.Txn) error {
		if d.opts.Immutable {
			_, err := txn.Get(d.dbKey(key))
			if err == nil {
				return fmt.Errorf("%w: can't overwrite %s", ErrImmutable, key)
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Set(d.dbKey(key), b)
	})
}

func (d *BadgerDict) Delete(_ context.Context, key Key) error {
	if d.opts.Immutable {
		return fmt.Errorf("%w: can't delete %s", ErrImmutable, key)
	}
	return d.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(d.dbKey(key)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		} else if err != nil {
			return err
		}
		return txn.Delete(d.dbKey(key))
	})
}

func (d *BadgerDict) Keys(_ context.Context) ([]Key, error) {
	var keys []Key
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(d.prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw := strings.TrimPrefix(string(it.Item().KeyCopy(nil)), d.prefix)
			if key, err := NewKey(strings.Split(raw, "/")); err == nil {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortKeys(keys)
	return keys, nil
}

func (d *BadgerDict) Len(ctx context.Context) (int, error)      { return length(ctx, d) }
func (d *BadgerDict) Values(ctx context.Context) ([]any, error) { return values(ctx, d) }
func (d *BadgerDict) Items(ctx context.Context) ([]Item, error) { return items(ctx, d) }

func (d *BadgerDict) Clear(_ context.Context) error {
	if d.opts.Immutable {
		return fmt.Errorf("%w: can't clear badger prefix %q", ErrImmutable, d.prefix)
	}
	if d.prefix == "" {
		return d.db.DropAll()
	}
	return d.db.DropPrefix([]byte(d.prefix))
}

func (d *BadgerDict) SubDict(prefix Key) (Dict, error) {
	if _, err := NewKey(prefix); err != nil {
		return nil, err
	}
	return &BadgerDict{db: d.db, prefix: d.prefix + strings.Join(prefix, "/") + "/", opts: d.opts}, nil
}
