// Package cloud publishes autonomous functions and memoizes their outputs in
// shared persistent stores, keyed by the address of each call signature.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"

	"github.com/vladlpavlov/Pythagoras-sub001/address"
	"github.com/vladlpavlov/Pythagoras-sub001/autonomy"
	"github.com/vladlpavlov/Pythagoras-sub001/config"
	"github.com/vladlpavlov/Pythagoras-sub001/log"
	"github.com/vladlpavlov/Pythagoras-sub001/memo"
	"github.com/vladlpavlov/Pythagoras-sub001/metrics"
	"github.com/vladlpavlov/Pythagoras-sub001/persidict"
)

var (
	ErrNonIdempotent    = errors.New("function is not idempotent")
	ErrTimeout          = errors.New("timed out waiting for address")
	ErrAlreadyPublished = errors.New("function already published")
	ErrUnknownFunction  = errors.New("unknown function")
	ErrInvalidFunction  = errors.New("function can't be published")
)

// Kwargs are the keyword arguments of a call.
type Kwargs = memo.Kwargs

// Func is the shape of every published function. Other published functions
// are reachable only through env.
type Func func(ctx context.Context, env *Env, kw Kwargs) (any, error)

// packagePath is the import every published source needs for Env and Kwargs.
var packagePath = reflect.TypeOf(Env{}).PkgPath()

type Config struct {
	config.Config

	// Stores replaces the configured backend when set.
	Stores StoreFactory
	// Registerer receives the metrics. nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Cloud is an explicit handle: there is no process-wide instance.
type Cloud struct {
	cfg      Config
	stores   Stores
	closer   func() error
	registry *memdb.MemDB
	metrics  *metrics.Collectors

	publishMu sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

const (
	tableFunctions = "functions"
	indexID        = "id"
	indexSnapshot  = "snapshot"
)

var registrySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableFunctions: {
			Name: tableFunctions,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Name"},
				},
				indexSnapshot: {
					Name:    indexSnapshot,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "SnapshotAddr"},
				},
			},
		},
	},
}

func New(ctx context.Context, cfg Config) (*Cloud, error) {
	if err := cfg.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	registry, err := memdb.NewMemDB(registrySchema)
	if err != nil {
		return nil, err
	}
	m, err := metrics.New(cfg.Registerer)
	if err != nil {
		return nil, err
	}
	stores, closer, err := openStores(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}
	return &Cloud{
		cfg:      cfg,
		stores:   stores,
		closer:   closer,
		registry: registry,
		metrics:  m,
	}, nil
}

// Close releases the stores. It is safe to call more than once.
func (c *Cloud) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.closer()
	})
	return c.closeErr
}

func (c *Cloud) Config() Config               { return c.cfg }
func (c *Cloud) Stores() Stores               { return c.stores }
func (c *Cloud) Metrics() *metrics.Collectors { return c.metrics }

// Function returns the handle of a published function.
func (c *Cloud) Function(name string) (*Function, error) {
	txn := c.registry.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableFunctions, indexID, name)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return raw.(*Function), nil
}

// Functions lists published names in order.
func (c *Cloud) Functions() ([]string, error) {
	txn := c.registry.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableFunctions, indexID)
	if err != nil {
		return nil, err
	}
	var names []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		names = append(names, raw.(*Function).Name)
	}
	return names, nil
}

type PublishOption func(*publishOptions)

type publishOptions struct {
	imports  []string
	packages []string
	relaxed  bool
}

// WithImports declares the imports the function's source uses.
func WithImports(specs ...string) PublishOption {
	return func(o *publishOptions) { o.imports = append(o.imports, specs...) }
}

// WithPackages records third-party requirements in the snapshot.
func WithPackages(pkgs ...string) PublishOption {
	return func(o *publishOptions) { o.packages = append(o.packages, pkgs...) }
}

// AllowPublished lets the function reach already published functions.
func AllowPublished() PublishOption {
	return func(o *publishOptions) { o.relaxed = true }
}

// Publish registers fn under name. src is fn's Go source: a plain function
// declaration named name. Publishing happens once per name and requires the
// source to be autonomous.
func (c *Cloud) Publish(ctx context.Context, name string, fn Func, src string, opts ...PublishOption) (*Function, error) {
	if name == "" || fn == nil {
		return nil, fmt.Errorf("%w: name and function are required", ErrInvalidFunction)
	}
	if err := checkCallable(name, fn); err != nil {
		return nil, err
	}
	h, err := autonomy.DeclHeader(src)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", name, err)
	}
	switch {
	case h.Name == "":
		return nil, fmt.Errorf("%w: %s is an anonymous function", ErrInvalidFunction, name)
	case h.Method:
		return nil, fmt.Errorf("%w: %s is a method", ErrInvalidFunction, name)
	case h.Name != name:
		return nil, fmt.Errorf("%w: source declares %s, not %s", ErrInvalidFunction, h.Name, name)
	}

	o := publishOptions{imports: []string{"context", packagePath}}
	for _, opt := range opts {
		opt(&o)
	}
	normalized, err := autonomy.NormalizeSource(src)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", name, err)
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	if _, err := c.Function(name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPublished, name)
	}
	published, err := c.Functions()
	if err != nil {
		return nil, err
	}
	var allowed map[string]struct{}
	if o.relaxed {
		allowed = map[string]struct{}{name: {}}
		for _, p := range published {
			allowed[p] = struct{}{}
		}
	}
	nu, err := autonomy.Check(src, o.imports, allowed)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", name, err)
	}

	f := &Function{
		Name:   name,
		cloud:  c,
		fn:     fn,
		calls:  nu.Calls,
		direct: directDependencies(name, nu, published),
	}
	imports := slices.Clone(o.imports)
	slices.Sort(imports)
	f.snapshot = Snapshot{
		Function:     name,
		Source:       normalized,
		Imports:      slices.Compact(imports),
		Dependencies: map[string]string{},
		Requirements: Requirements{GoVersion: runtime.Version(), Packages: o.packages},
	}
	if err := c.collectDependencies(f.direct, f.snapshot.Dependencies); err != nil {
		return nil, fmt.Errorf("publish %s: %w", name, err)
	}
	addr, err := address.Push(ctx, c.stores.Values, f.snapshot)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", name, err)
	}
	f.SnapshotAddr = addr.String()

	txn := c.registry.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableFunctions, f); err != nil {
		return nil, fmt.Errorf("publish %s: %w", name, err)
	}
	txn.Commit()

	log.LogEff(ctx, log.LogInfo, "function published", map[string]interface{}{
		"function": name,
		"snapshot": f.SnapshotAddr,
	})
	return f, nil
}

var closureName = regexp.MustCompile(`^func\d+$`)

// checkCallable rejects function literals, closures and method values, and
// functions declared under a name other than name. It goes by the name the
// runtime gives fn's code.
func checkCallable(name string, fn Func) error {
	full := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	if strings.HasSuffix(full, "-fm") {
		return fmt.Errorf("%w: %s is a method value", ErrInvalidFunction, name)
	}
	parts := strings.Split(full[strings.LastIndex(full, "/")+1:], ".")
	for _, p := range parts[1:] {
		if closureName.MatchString(p) {
			return fmt.Errorf("%w: %s is a function literal", ErrInvalidFunction, name)
		}
	}
	if len(parts) != 2 || parts[1] != name {
		return fmt.Errorf("%w: %s is declared as %s", ErrInvalidFunction, name, full)
	}
	return nil
}

// directDependencies are the published functions the source names, either
// directly or through Env.Call.
func directDependencies(self string, nu *autonomy.NamesUsed, published []string) []string {
	var deps []string
	for _, p := range published {
		if p == self {
			continue
		}
		_, viaEnv := nu.Calls[p]
		_, named := nu.Unclassified[p]
		if viaEnv || named {
			deps = append(deps, p)
		}
	}
	return deps
}

func (c *Cloud) collectDependencies(names []string, into map[string]string) error {
	for _, n := range names {
		if _, seen := into[n]; seen {
			continue
		}
		dep, err := c.Function(n)
		if err != nil {
			return err
		}
		into[n] = dep.snapshot.Source
		if err := c.collectDependencies(dep.direct, into); err != nil {
			return err
		}
	}
	return nil
}

// recheck decides whether a cached output is recomputed and compared.
func (c *Cloud) recheck() bool {
	p := c.cfg.PurityCheckP
	return p != nil && rand.Float64() < *p
}

var errNotReady = errors.New("address not ready")

// Ready reports whether a is an available output or value.
func (c *Cloud) Ready(ctx context.Context, a address.Address) (bool, error) {
	_, ok, err := c.lookup(ctx, a)
	return ok, err
}

func (c *Cloud) lookup(ctx context.Context, a address.Address) (any, bool, error) {
	for _, d := range []persidict.Dict{c.stores.Outputs, c.stores.Values} {
		v, err := d.Get(ctx, a.Key())
		if err == nil {
			return v, true, nil
		}
		if !errors.Is(err, persidict.ErrNotFound) {
			return nil, false, err
		}
	}
	return nil, false, nil
}

// Get waits for the output (or value) at a. Polling backs off exponentially
// from one second with jitter. A positive timeout bounds the total wait;
// otherwise only ctx does.
func (c *Cloud) Get(ctx context.Context, a address.Address, timeout time.Duration) (any, error) {
	var b retry.Backoff = retry.WithJitterPercent(10, retry.NewExponential(time.Second))
	if timeout > 0 {
		b = retry.WithMaxDuration(timeout, b)
	}
	var out any
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		v, ok, err := c.lookup(ctx, a)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(errNotReady)
		}
		out = v
		return nil
	})
	if errors.Is(err, errNotReady) {
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, a, timeout)
	}
	return out, err
}
