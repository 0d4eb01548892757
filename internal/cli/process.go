package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ignite/investor-outreach/internal/app"
)

func newProcessCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run the processor once",
		Long:  `Claim due enrollments, fire their next step and print the run summary. Meant to be invoked by cron.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				summary, err := a.Processor.Run(cmd.Context())
				if err != nil {
					return fmt.Errorf("run failed: %w", err)
				}
				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return printJSON(out, summary)
				}

				fmt.Fprintf(out, "run %s: claimed=%d processed=%d sent=%d errors=%d (%dms)\n",
					summary.RunID, summary.Claimed, summary.Processed, summary.Sent, summary.Errors, summary.DurationMS)
				if len(summary.Failures) == 0 {
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ENROLLMENT\tINVESTOR\tSTEP\tERROR")
				for _, f := range summary.Failures {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.EnrollmentID, f.InvestorID, f.StepOrder, f.Error)
				}
				return w.Flush()
			})
		},
	}
}

