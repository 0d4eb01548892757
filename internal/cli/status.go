package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/investor-outreach/internal/app"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show enrollment counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				st, err := a.Enrollments.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return printJSON(out, st)
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "due\t%d\n", st.Due)
				fmt.Fprintf(w, "overdue\t%d\n", st.Overdue)
				fmt.Fprintf(w, "active\t%d\n", st.Active)
				fmt.Fprintf(w, "paused\t%d\n", st.Paused)
				fmt.Fprintf(w, "completed\t%d\n", st.Completed)
				fmt.Fprintf(w, "cancelled\t%d\n", st.Cancelled)
				fmt.Fprintf(w, "claimed\t%d\n", st.Claimed)
				fmt.Fprintf(w, "generated\t%s\n", st.GeneratedAt.Format(time.RFC3339))
				return w.Flush()
			})
		},
	}
}
