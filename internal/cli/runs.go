package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/investor-outreach/internal/app"
)

func newRunsCmd(opts *options) *cobra.Command {
	var (
		day   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived processor runs",
		Long:  `List the runs recorded in the run index for one UTC day, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now().UTC()
			if day != "" {
				var err error
				if when, err = time.Parse("2006-01-02", day); err != nil {
					return fmt.Errorf("invalid --day %q: want YYYY-MM-DD", day)
				}
			}
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				if a.Archive == nil {
					return errors.New("run reports are not enabled")
				}
				runs, err := a.Archive.Recent(cmd.Context(), when, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return printJSON(out, runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "STARTED\tRUN\tCLAIMED\tSENT\tERRORS\tDURATION")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%dms\n",
						r.StartedAt.Format(time.RFC3339), r.RunID, r.Claimed, r.Sent, r.Errors, r.DurationMS)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "UTC day to list (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
