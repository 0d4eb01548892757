// Package cli implements seqctl, the operator command line for the
// sequence processor.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ignite/investor-outreach/internal/app"
	"github.com/ignite/investor-outreach/internal/config"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
)

type options struct {
	configPath string
	jsonOut    bool
}

// NewRootCmd builds the seqctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "seqctl",
		Short:         "Operate the investor outreach sequence processor",
		Long:          `seqctl runs the sequence processor once, reports enrollment health, sweeps expired claims and lists archived runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config/config.yaml", "path to the config file")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of text")

	root.AddCommand(
		newProcessCmd(opts),
		newStatusCmd(opts),
		newSweepCmd(opts),
		newRunsCmd(opts),
	)
	return root
}

// Execute runs seqctl with the process arguments.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}

// withApp loads configuration, builds the app and hands it to fn.
func withApp(ctx context.Context, opts *options, fn func(*app.App) error) error {
	cfg, err := config.LoadFromEnv(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
