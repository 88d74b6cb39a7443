package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/vladlpavlov/Pythagoras-sub001/address"
	"github.com/vladlpavlov/Pythagoras-sub001/cloud"
	"github.com/vladlpavlov/Pythagoras-sub001/config"
	"github.com/vladlpavlov/Pythagoras-sub001/log"
	"github.com/vladlpavlov/Pythagoras-sub001/memo"
)

// app is the state shared by all subcommands of one invocation.
type app struct {
	configPath string
	cfg        config.Config
	teardown   func() context.Context
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pythagoras",
		Short:         "Inspect a Pythagoras store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logger, err := log.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			ctx, teardown := log.WithZapLogEffectHandler(contextOf(cmd), 64, logger)
			a.teardown = teardown
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.teardown != nil {
				a.teardown()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "pythagoras.yaml", "path to the config file")

	values := &cobra.Command{Use: "values", Short: "Content-addressed values"}
	values.AddCommand(
		&cobra.Command{
			Use:   "ls",
			Short: "List value addresses",
			Args:  cobra.NoArgs,
			RunE:  a.withCloud(listValues),
		},
		&cobra.Command{
			Use:   "get <address>...",
			Short: "Print values as YAML",
			Args:  cobra.MinimumNArgs(1),
			RunE:  a.withCloud(getValues),
		},
	)
	events := &cobra.Command{Use: "events", Short: "Execution log"}
	events.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List execution events, oldest first",
		Args:  cobra.NoArgs,
		RunE:  a.withCloud(listEvents),
	})
	exceptions := &cobra.Command{Use: "exceptions", Short: "Exception log"}
	exceptions.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List recorded failures",
		Args:  cobra.NoArgs,
		RunE:  a.withCloud(listExceptions),
	})
	mc := &cobra.Command{Use: "memo", Short: "Local memo caches"}
	mc.AddCommand(&cobra.Command{
		Use:   "purge [dir]",
		Short: "Remove every entry of a memo cache",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.purge,
	})
	root.AddCommand(values, events, exceptions, mc)
	return root
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

type cloudRun func(cmd *cobra.Command, c *cloud.Cloud, args []string) error

func (a *app) withCloud(run cloudRun) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		c, err := cloud.New(cmd.Context(), cloud.Config{Config: a.cfg})
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, c.Close()) }()
		return run(cmd, c, args)
	}
}

func listValues(cmd *cobra.Command, c *cloud.Cloud, _ []string) error {
	keys, err := c.Stores().Values.Keys(cmd.Context())
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), k.String())
	}
	return nil
}

func getValues(cmd *cobra.Command, c *cloud.Cloud, args []string) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	defer enc.Close()
	for _, s := range args {
		addr, err := address.Parse(s)
		if err != nil {
			return err
		}
		v, err := address.Fetch(cmd.Context(), c.Stores().Values, addr)
		if err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}
		if err := enc.Encode(map[string]any{addr.String(): v}); err != nil {
			return err
		}
	}
	return nil
}

func listEvents(cmd *cobra.Command, c *cloud.Cloud, _ []string) error {
	events, err := c.Timeline(cmd.Context())
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s %s pid=%d\n",
			e.At.Format("2006-01-02T15:04:05.000Z07:00"), e.Kind, e.Mode, e.Function, e.Signature, e.PID)
	}
	return nil
}

func listExceptions(cmd *cobra.Command, c *cloud.Cloud, _ []string) error {
	recs, err := c.Exceptions(cmd.Context())
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s: %s\n",
			r.At.Format("2006-01-02T15:04:05.000Z07:00"), r.Function, r.Signature, r.Error)
	}
	return nil
}

func (a *app) purge(cmd *cobra.Command, args []string) error {
	dir := a.cfg.Cache.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	c, err := memo.New(dir)
	if err != nil {
		return err
	}
	if err := c.Purge(cmd.Context()); err != nil {
		return err
	}
	log.LogEff(cmd.Context(), log.LogInfo, "memo cache purged", map[string]interface{}{"dir": dir})
	return nil
}
