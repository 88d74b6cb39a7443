package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vladlpavlov/Pythagoras-sub001/address"
	"github.com/vladlpavlov/Pythagoras-sub001/log"
)

var ErrNoWorker = errors.New("no worker command configured")

// SubprocessExecute runs fn(kw) in a fresh worker process that shares the
// stores, then reads the output back. A stored output is returned without
// starting a process unless the purity check picks this call, in which case
// the worker recomputes and compares it.
func (f *Function) SubprocessExecute(ctx context.Context, kw Kwargs) (any, error) {
	sig, err := f.Address(ctx, kw)
	if err != nil {
		return nil, err
	}
	recheck := f.cloud.recheck()
	if out, err := f.cloud.stores.Outputs.Get(ctx, sig.Key()); err == nil && !recheck {
		return out, nil
	}
	if err := f.cloud.spawn(ctx, sig, recheck); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	return f.cloud.stores.Outputs.Get(ctx, sig.Key())
}

// spawn blocks until the worker exits. The worker is not killed when ctx
// ends; it owns the output it is computing.
func (c *Cloud) spawn(ctx context.Context, sig address.Address, recheck bool) error {
	argv := c.cfg.WorkerCommand
	if len(argv) == 0 {
		return ErrNoWorker
	}
	cmd := exec.Command(argv[0], append(argv[1:], "--signature", sig.String(), "--recheck="+strconv.FormatBool(recheck))...)
	cmd.Env = append(os.Environ(), c.cfg.Config.Environ()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	log.LogEff(ctx, log.LogDebug, "starting worker", map[string]interface{}{
		"signature": sig.String(),
		"command":   argv[0],
		"recheck":   recheck,
	})
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("worker for %s: %w: %s", sig, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

type runOptions struct {
	recheck *bool
}

type RunOption func(*runOptions)

// WithRecheck fixes whether a stored output is recomputed and compared,
// overriding the purity check probability of this process.
func WithRecheck(recheck bool) RunOption {
	return func(o *runOptions) { o.recheck = &recheck }
}

// RunSignature executes the call stored at addr. The function must be
// published in this process with the same snapshot the caller used.
func (c *Cloud) RunSignature(ctx context.Context, addr string, opts ...RunOption) (any, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	a, err := address.Parse(addr)
	if err != nil {
		return nil, err
	}
	raw, err := address.Fetch(ctx, c.stores.Values, a)
	if err != nil {
		return nil, fmt.Errorf("call signature %s: %w", a, err)
	}
	sig, err := decodeSignature(raw)
	if err != nil {
		return nil, err
	}
	f, err := c.Function(sig.Function)
	if err != nil {
		return nil, err
	}
	if f.SnapshotAddr != sig.Snapshot {
		return nil, fmt.Errorf("%w: %s is published here as %s, call wants %s",
			ErrUnknownFunction, f.Name, f.SnapshotAddr, sig.Snapshot)
	}
	kw, err := c.unpack(ctx, sig.Args)
	if err != nil {
		return nil, err
	}
	recheck := c.recheck()
	if o.recheck != nil {
		recheck = *o.recheck
	}
	return c.resolve(ctx, f, a, kw, ModeWorker, recheck)
}

// WorkerCommand is the entry point of worker processes. open builds the
// Cloud, publishing the same functions as the parent.
func WorkerCommand(open func(ctx context.Context) (*Cloud, error)) *cobra.Command {
	var (
		signature string
		recheck   bool
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Execute one stored call signature",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			c, err := open(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := c.Close(); err == nil {
					err = cerr
				}
			}()
			var opts []RunOption
			if cmd.Flags().Changed("recheck") {
				opts = append(opts, WithRecheck(recheck))
			}
			_, err = c.RunSignature(ctx, signature, opts...)
			return err
		},
	}
	cmd.Flags().StringVar(&signature, "signature", "", "address of the call signature")
	cmd.Flags().BoolVar(&recheck, "recheck", false, "recompute and compare a stored output")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
