package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite/investor-outreach/internal/app"
)

func newSweepCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release expired claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				n, err := a.Sweeper.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), map[string]int{"released": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %d expired claims\n", n)
				return nil
			})
		},
	}
}
