package persidict

import (
	"context"
	"errors"
	"fmt"

	ristretto "github.com/dgraph-io/ristretto/v2"
)

// CachedDict is a read-through in-process cache in front of an immutable
// Dict. Immutability is what makes caching safe: a cached value can never go
// stale.
type CachedDict struct {
	Dict
	cache *ristretto.Cache[string, any]
}

var _ Dict = (*CachedDict)(nil)

// NewCachedDict caches up to maxItems values of inner.
func NewCachedDict(inner Dict, maxItems int64) (*CachedDict, error) {
	if !inner.Immutable() {
		return nil, errors.New("only immutable dicts can be cached")
	}
	if maxItems <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxItems)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 10 * maxItems,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedDict{Dict: inner, cache: cache}, nil
}

func (d *CachedDict) Contains(ctx context.Context, key Key) (bool, error) {
	if _, ok := d.cache.Get(key.String()); ok {
		return true, nil
	}
	return d.Dict.Contains(ctx, key)
}

func (d *CachedDict) Get(ctx context.Context, key Key) (any, error) {
	if v, ok := d.cache.Get(key.String()); ok {
		return v, nil
	}
	v, err := d.Dict.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	d.cache.Set(key.String(), v, 1)
	return v, nil
}

// Set leaves the cache alone: value may differ from what the inner dict
// decodes, and only the decoded form is ever served.
func (d *CachedDict) Set(ctx context.Context, key Key, value any) error {
	return d.Dict.Set(ctx, key, value)
}

// Items goes through Get so that listed values warm the cache.
func (d *CachedDict) Items(ctx context.Context) ([]Item, error) { return items(ctx, d) }
func (d *CachedDict) Values(ctx context.Context) ([]any, error) { return values(ctx, d) }

// Wait blocks until buffered cache writes are applied.
func (d *CachedDict) Wait() { d.cache.Wait() }

func (d *CachedDict) Close() { d.cache.Close() }
