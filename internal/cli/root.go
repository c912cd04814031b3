// Package cli implements the impfwatch command line.
//
// Usage:
//
//	impfwatch [--config config.yaml]                          run the poll loop
//	impfwatch --add --region 30000 --id 123456 --name alice   register a subscriber
//	impfwatch --remove alice                                  remove subscribers by name
//	impfwatch subscribers list                                print the registry
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"impfwatch/internal/app"
	"impfwatch/pkg/logx"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	cfgPath string

	add    bool
	remove string
	region string
	id     string
	name   string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "impfwatch",
		Short:         "Poll vaccination-slot availability and notify subscribers",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env if present
			_ = godotenv.Load(".env")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case opts.add:
				return runAdd(cmd, opts)
			case cmd.Flags().Changed("remove"):
				return runRemove(cmd, opts)
			default:
				return runLoop(cmd.Context(), opts.cfgPath)
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.cfgPath, "config", "c", "config.yaml", "configuration file (.yaml, .yml or .json)")

	f := root.Flags()
	f.BoolVar(&opts.add, "add", false, "register a subscriber (needs --region and --id)")
	f.StringVar(&opts.remove, "remove", "", "remove every subscriber with this name")
	f.StringVar(&opts.region, "region", "", "region key (postal code) for --add")
	f.StringVar(&opts.id, "id", "", "recipient chat id for --add")
	f.StringVar(&opts.name, "name", "", "subscriber name for --add")
	root.MarkFlagsMutuallyExclusive("add", "remove")

	root.AddCommand(subscribersCmd(opts))
	return root
}

// Execute runs the CLI with SIGINT/SIGTERM cancellation.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	return 0
}

func runLoop(ctx context.Context, cfgPath string) error {
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSIGTERM
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openRegistry(cmd *cobra.Command, cfgPath string) (*app.Registry, error) {
	return app.OpenRegistry(cmd.Context(), cfgPath, logx.NewConsole("WARN"))
}

func runAdd(cmd *cobra.Command, opts *rootOptions) error {
	if opts.region == "" || opts.id == "" {
		return errors.New("--add requires --region and --id")
	}
	reg, err := openRegistry(cmd, opts.cfgPath)
	if err != nil {
		return err
	}
	defer reg.Close()

	if err := reg.Add(cmd.Context(), "cli", opts.region, registrySubscriber(opts)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added %s to region %s\n", displayName(opts), opts.region)
	return nil
}

func runRemove(cmd *cobra.Command, opts *rootOptions) error {
	reg, err := openRegistry(cmd, opts.cfgPath)
	if err != nil {
		return err
	}
	defer reg.Close()

	n, err := reg.Remove(cmd.Context(), "cli", opts.remove)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d subscriber(s) named %q\n", n, opts.remove)
	return nil
}
