package cloud

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/vladlpavlov/Pythagoras-sub001/address"
	"github.com/vladlpavlov/Pythagoras-sub001/autonomy"
	"github.com/vladlpavlov/Pythagoras-sub001/internal/clock"
	"github.com/vladlpavlov/Pythagoras-sub001/log"
	"github.com/vladlpavlov/Pythagoras-sub001/persidict"
	"go.uber.org/multierr"
)

// Mode names how a call was executed.
type Mode string

const (
	ModeSync   Mode = "sync"
	ModeAsync  Mode = "async"
	ModeWorker Mode = "worker"
)

// Function is a published function. It is immutable once published.
type Function struct {
	Name         string
	SnapshotAddr string

	cloud    *Cloud
	fn       Func
	snapshot Snapshot
	calls    map[string]struct{}
	direct   []string
}

func (f *Function) Snapshot() Snapshot { return f.snapshot }

// Env is handed to a published function while it runs.
type Env struct {
	cloud *Cloud
	fn    *Function
	sig   address.Address
}

// Signature is the address of the running call.
func (e *Env) Signature() address.Address { return e.sig }

// Call executes another published function. Only names the caller passes
// literally to Call in its source are allowed.
func (e *Env) Call(ctx context.Context, name string, kw Kwargs) (any, error) {
	if _, ok := e.fn.calls[name]; !ok {
		return nil, fmt.Errorf("%w: %s may not call %s", autonomy.ErrNotAutonomous, e.fn.Name, name)
	}
	target, err := e.cloud.Function(name)
	if err != nil {
		return nil, err
	}
	return target.Execute(ctx, kw)
}

// Address is the call-signature address of fn(kw). The arguments are pushed
// to the value store, nothing is executed.
func (f *Function) Address(ctx context.Context, kw Kwargs) (address.Address, error) {
	args, err := f.cloud.pack(ctx, kw)
	if err != nil {
		return address.Address{}, fmt.Errorf("%s: %w", f.Name, err)
	}
	sig := CallSignature{Function: f.Name, Snapshot: f.SnapshotAddr, Args: args.String()}
	a, err := address.Push(ctx, f.cloud.stores.Values, sig)
	if err != nil {
		return address.Address{}, fmt.Errorf("%s: %w", f.Name, err)
	}
	return a, nil
}

// Execute runs fn(kw) in this process, or returns the stored output.
func (f *Function) Execute(ctx context.Context, kw Kwargs) (any, error) {
	sig, err := f.Address(ctx, kw)
	if err != nil {
		return nil, err
	}
	return f.cloud.resolve(ctx, f, sig, kw, ModeSync, f.cloud.recheck())
}

// AsyncExecute records a request for fn(kw) and returns its address. Without
// a remote executor the request is served locally before returning.
func (f *Function) AsyncExecute(ctx context.Context, kw Kwargs) (address.Address, error) {
	sig, err := f.Address(ctx, kw)
	if err != nil {
		return address.Address{}, err
	}
	if err := f.cloud.request(ctx, f, sig, "requested"); err != nil {
		return address.Address{}, err
	}
	if _, err := f.cloud.resolve(ctx, f, sig, kw, ModeAsync, f.cloud.recheck()); err != nil {
		return address.Address{}, multierr.Append(err, f.cloud.request(ctx, f, sig, "failed"))
	}
	if err := f.cloud.request(ctx, f, sig, "done"); err != nil {
		return address.Address{}, err
	}
	return sig, nil
}

// ParallelExecute runs every call in random order and returns the outputs in
// the order of kws.
func (f *Function) ParallelExecute(ctx context.Context, kws []Kwargs) ([]any, error) {
	return shuffled(kws, func(kw Kwargs) (any, error) { return f.Execute(ctx, kw) })
}

func (f *Function) AsyncParallelExecute(ctx context.Context, kws []Kwargs) ([]address.Address, error) {
	return shuffled(kws, func(kw Kwargs) (address.Address, error) { return f.AsyncExecute(ctx, kw) })
}

func (f *Function) SubprocessParallelExecute(ctx context.Context, kws []Kwargs) ([]any, error) {
	return shuffled(kws, func(kw Kwargs) (any, error) { return f.SubprocessExecute(ctx, kw) })
}

func shuffled[T any](kws []Kwargs, run func(Kwargs) (T, error)) ([]T, error) {
	out := make([]T, len(kws))
	for _, i := range rand.Perm(len(kws)) {
		v, err := run(kws[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// resolve returns the stored output of sig, computing and storing it when
// absent, and rechecking it when the purity check fires.
// resolve returns the stored output of sig, computing it when absent. With
// recheck set, a stored output is recomputed and compared before it is served.
func (c *Cloud) resolve(ctx context.Context, f *Function, sig address.Address, kw Kwargs, mode Mode, recheck bool) (any, error) {
	cached, err := c.stores.Outputs.Get(ctx, sig.Key())
	switch {
	case err == nil:
		if !recheck {
			return cached, nil
		}
		fresh, err := c.run(ctx, f, sig, kw, mode)
		if err != nil {
			return nil, err
		}
		same, err := c.sameOutput(ctx, cached, fresh)
		c.metrics.PurityChecked(f.Name, same && err == nil)
		if err != nil {
			return nil, err
		}
		if !same {
			err := fmt.Errorf("%w: %s returned a different output for %s", ErrNonIdempotent, f.Name, sig)
			c.recordException(ctx, f.Name, sig, err, "")
			return nil, err
		}
		return cached, nil
	case errors.Is(err, persidict.ErrNotFound):
		out, err := c.run(ctx, f, sig, kw, mode)
		if err != nil {
			return nil, err
		}
		if _, err := persidict.SetDefault(ctx, c.stores.Outputs, sig.Key(), out); err != nil && !errors.Is(err, persidict.ErrImmutable) {
			return nil, fmt.Errorf("store output of %s: %w", sig, err)
		}
		return persidict.Format(c.cfg.Format).Restore(out)
	default:
		return nil, err
	}
}

// sameOutput compares by content address after passing fresh through the
// store's serialization, so both sides have the same representation.
func (c *Cloud) sameOutput(ctx context.Context, cached, fresh any) (bool, error) {
	fresh, err := persidict.Format(c.cfg.Format).Restore(fresh)
	if err != nil {
		return false, err
	}
	a1, err := address.Of(ctx, cached)
	if err != nil {
		return false, err
	}
	a2, err := address.Of(ctx, fresh)
	if err != nil {
		return false, err
	}
	return a1 == a2, nil
}

type nestedKey struct{}

// run executes f once. Errors and panics of the outermost orchestrated call
// are appended to the exception log and then returned or re-panicked as is.
func (c *Cloud) run(ctx context.Context, f *Function, sig address.Address, kw Kwargs, mode Mode) (out any, err error) {
	outermost := ctx.Value(nestedKey{}) == nil
	ctx = context.WithValue(ctx, nestedKey{}, true)
	c.event(ctx, EventStarted, f.Name, sig, mode)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			if outermost {
				c.recordException(ctx, f.Name, sig, fmt.Errorf("panic: %v", r), stack())
			}
			panic(r)
		}
	}()

	out, err = f.fn(ctx, &Env{cloud: c, fn: f, sig: sig}, kw)
	if err != nil {
		if outermost {
			c.recordException(ctx, f.Name, sig, err, stack())
		}
		return nil, err
	}
	seconds := clock.Seconds(clock.Since(start))
	c.metrics.Executed(f.Name, string(mode), seconds)
	c.event(ctx, EventFinished, f.Name, sig, mode)
	log.LogEff(ctx, log.LogDebug, "function executed", map[string]interface{}{
		"function":  f.Name,
		"signature": sig.String(),
		"mode":      string(mode),
		"seconds":   seconds,
	})
	return out, nil
}
