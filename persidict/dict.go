// Package persidict provides persistent dictionaries keyed by safe string
// sequences. All backends share the Dict contract and optionally enforce
// immutability: once a key exists, Set and Delete on it fail.
package persidict

import (
	"context"
	"fmt"

	"github.com/vladlpavlov/Pythagoras-sub001/shared/helper"
)

// Dict is the common contract of every backend.
type Dict interface {
	Contains(ctx context.Context, key Key) (bool, error)
	// Get returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key Key) (any, error)
	// Set returns ErrImmutable if the dict is immutable and the key exists.
	Set(ctx context.Context, key Key, value any) error
	// Delete returns ErrNotFound if absent and ErrImmutable if the dict is immutable.
	Delete(ctx context.Context, key Key) error
	Len(ctx context.Context) (int, error)
	// Keys are returned in ascending order of their string form.
	Keys(ctx context.Context) ([]Key, error)
	Values(ctx context.Context) ([]any, error)
	Items(ctx context.Context) ([]Item, error)
	Clear(ctx context.Context) error
	// SubDict is a view of all keys under prefix, with the prefix stripped.
	SubDict(prefix Key) (Dict, error)
	Immutable() bool
}

// Item is one key-value pair.
type Item struct {
	Key   Key
	Value any
}

// Options are shared by every backend.
type Options struct {
	Format    Format
	Immutable bool
	// DigestLen is the number of hex digest characters appended to each path
	// segment by directory-based backends. 0 disables the suffix.
	DigestLen int
}

func DefaultOptions() Options {
	return Options{Format: FormatGob, DigestLen: 4}
}

func (o Options) Validate() error {
	if err := o.Format.Validate(); err != nil {
		return err
	}
	if o.DigestLen < 0 || o.DigestLen > 16 {
		return fmt.Errorf("digest length %d out of range [0,16]", o.DigestLen)
	}
	return nil
}

// GetAs fetches key and asserts its type.
func GetAs[T any](ctx context.Context, d Dict, key Key) (T, error) {
	return helper.GetTypedValueOf[T](func() (any, error) {
		return d.Get(ctx, key)
	})
}

// SetDefault stores value under key unless the key is already present.
// It reports whether the value was written.
func SetDefault(ctx context.Context, d Dict, key Key, value any) (bool, error) {
	ok, err := d.Contains(ctx, key)
	if err != nil || ok {
		return false, err
	}
	return true, d.Set(ctx, key, value)
}

func values(ctx context.Context, d Dict) ([]any, error) {
	items, err := d.Items(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.Value
	}
	return out, nil
}

func items(ctx context.Context, d Dict) ([]Item, error) {
	keys, err := d.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(keys))
	for _, k := range keys {
		v, err := d.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, Item{Key: k, Value: v})
	}
	return out, nil
}

func length(ctx context.Context, d Dict) (int, error) {
	keys, err := d.Keys(ctx)
	return len(keys), err
}
