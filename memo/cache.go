// Package memo persists function outputs keyed by a legible rendering and a
// fingerprint of the call arguments.
package memo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vladlpavlov/Pythagoras-sub001/internal/clock"
	"github.com/vladlpavlov/Pythagoras-sub001/log"
	"github.com/vladlpavlov/Pythagoras-sub001/metrics"
	"github.com/vladlpavlov/Pythagoras-sub001/persidict"
	"github.com/vladlpavlov/Pythagoras-sub001/repr"
	"github.com/vladlpavlov/Pythagoras-sub001/shared/helper"
)

// Kwargs are the keyword arguments of a call.
type Kwargs map[string]any

type Func func(ctx context.Context, kw Kwargs) (any, error)

// Options are the cache defaults. Format defaults to gob; concrete types
// carried in results must then be registered with persidict.Register.
type Options struct {
	Read        bool
	Write       bool
	Format      persidict.Format
	MaxKeyLen   int
	Uncacheable *Marker
	Metrics     *metrics.Collectors
}

type Option func(*Options)

func WithDefaults(read, write bool) Option {
	return func(o *Options) { o.Read, o.Write = read, write }
}

func WithFormat(f persidict.Format) Option {
	return func(o *Options) { o.Format = f }
}

func WithMaxKeyLen(n int) Option {
	return func(o *Options) { o.MaxKeyLen = n }
}

// WithUncacheable disables caching for calls whose argument tree holds a
// field or map key attr equal to value.
func WithUncacheable(attr string, value any) Option {
	return func(o *Options) { o.Uncacheable = &Marker{Attr: attr, Value: value} }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(o *Options) { o.Metrics = m }
}

// Cache is safe for concurrent use. Concurrent misses of one key within
// the process execute once.
type Cache struct {
	dir   string
	opts  Options
	slim  *repr.Builder
	fp    *repr.Builder
	group singleflight.Group

	mu    sync.Mutex
	dicts map[string]*persidict.FileDict
}

func New(dir string, opts ...Option) (*Cache, error) {
	o := Options{Read: true, Write: true, Format: persidict.FormatGob, MaxKeyLen: DefaultMaxKeyLen}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Format.Validate(); err != nil {
		return nil, err
	}
	if o.MaxKeyLen < 2*overflowLen+2 {
		return nil, fmt.Errorf("max key length %d is too small", o.MaxKeyLen)
	}
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	return &Cache{
		dir:   dir,
		opts:  o,
		slim:  repr.Slim(),
		fp:    repr.Fingerprint(),
		dicts: make(map[string]*persidict.FileDict),
	}, nil
}

func (c *Cache) Dir() string { return c.dir }

// dictFor returns the per-function store. Keys carry their own hashes, so
// segment digests are off.
func (c *Cache) dictFor(name string) (*persidict.FileDict, error) {
	sub := subdirName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.dicts[sub]; ok {
		return d, nil
	}
	d, err := persidict.NewFileDict(filepath.Join(c.dir, sub), persidict.Options{Format: c.opts.Format})
	if err != nil {
		return nil, err
	}
	c.dicts[sub] = d
	return d, nil
}

// Wrapped is a memoized function.
type Wrapped struct {
	cache *Cache
	name  string
	fn    Func
}

// Wrap memoizes fn under name. The name must be stable across processes.
func (c *Cache) Wrap(name string, fn Func) *Wrapped {
	return &Wrapped{cache: c, name: name, fn: fn}
}

func (w *Wrapped) Name() string { return w.name }

func (w *Wrapped) Call(ctx context.Context, kw Kwargs, opts ...CallOption) (any, error) {
	return w.cache.invoke(ctx, invocation{
		name:   w.name,
		kw:     kw,
		source: w.name,
		run:    func(ctx context.Context) (any, error) { return w.fn(ctx, kw) },
	}, opts)
}

// Typed adapts w to a statically typed signature.
func Typed[O any](w *Wrapped) func(ctx context.Context, kw Kwargs, opts ...CallOption) (O, error) {
	return func(ctx context.Context, kw Kwargs, opts ...CallOption) (O, error) {
		return helper.GetTypedValueOf[O](func() (any, error) {
			return w.Call(ctx, kw, opts...)
		})
	}
}

type invocation struct {
	name      string
	kw        Kwargs
	slimExtra []string
	fpExtra   []string
	source    string
	run       func(context.Context) (any, error)
}

func (c *Cache) invoke(ctx context.Context, inv invocation, opts []CallOption) (any, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	read, write := resolve(c.opts.Read, c.opts.Write, co)
	if (read || write) && c.opts.Uncacheable != nil &&
		(hasMarker(inv.kw, *c.opts.Uncacheable) || hasMarker(co.receiver, *c.opts.Uncacheable)) {
		log.LogEff(ctx, log.LogWarn, "uncacheable argument, caching disabled for this call", map[string]interface{}{
			"function": inv.name,
			"marker":   c.opts.Uncacheable.Attr,
		})
		read, write = false, false
	}
	if !read && !write {
		return c.execute(ctx, inv)
	}

	dict, err := c.dictFor(inv.name)
	if err != nil {
		return nil, err
	}
	key, err := c.key(ctx, inv.name, inv.kw, inv.slimExtra, inv.fpExtra)
	if err != nil {
		return nil, err
	}

	if read {
		if out, ok, err := c.load(ctx, inv.name, dict, key); err != nil || ok {
			return out, err
		}
	}
	c.opts.Metrics.Miss(inv.name)

	if !write {
		return c.execute(ctx, inv)
	}
	out, err, _ := c.group.Do(dict.Path(key), func() (any, error) {
		start := time.Now()
		out, err := c.execute(ctx, inv)
		if err != nil {
			return nil, err
		}
		entry := Entry{Data: out, CostSeconds: clock.Seconds(clock.Since(start)), Source: inv.source}
		if err := dict.Set(ctx, key, entry); err != nil {
			return nil, fmt.Errorf("store cache entry of %s: %w", inv.name, err)
		}
		c.opts.Metrics.Write(inv.name)
		return c.opts.Format.Restore(out)
	})
	return out, err
}

func (c *Cache) execute(ctx context.Context, inv invocation) (any, error) {
	out, err := inv.run(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		log.LogEff(ctx, log.LogWarn, "function returned nil", map[string]interface{}{"function": inv.name})
	}
	return out, nil
}

func (c *Cache) load(ctx context.Context, name string, dict *persidict.FileDict, key persidict.Key) (any, bool, error) {
	start := time.Now()
	raw, err := dict.Get(ctx, key)
	if errors.Is(err, persidict.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorruptEntry, dict.Path(key), err)
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", dict.Path(key), err)
	}
	replay := clock.Seconds(clock.Since(start))
	c.opts.Metrics.Hit(name)
	if replay >= entry.CostSeconds {
		log.LogEff(ctx, log.LogWarn, "cache not worth it", map[string]interface{}{
			"function":        name,
			"replay_seconds":  replay,
			"compute_seconds": entry.CostSeconds,
			"file":            dict.Path(key),
		})
	}
	return entry.Data, true, nil
}

// Purge removes every cache entry below the cache directory.
func (c *Cache) Purge(ctx context.Context) error {
	c.mu.Lock()
	c.dicts = make(map[string]*persidict.FileDict)
	c.mu.Unlock()
	d, err := persidict.NewFileDict(c.dir, persidict.Options{Format: c.opts.Format})
	if err != nil {
		return err
	}
	return d.Clear(ctx)
}
