package cli

import (
	"github.com/spf13/cobra"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/repository"
)

func newTraceCmd(st *cliState) *cobra.Command {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect the archived trace of remote invocations",
	}

	var (
		limit  int
		filter repository.HistoryFilter
	)
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List archived trace entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := st.app.History.ListFiltered(limit, filter)
			if err != nil {
				return err
			}
			if st.flags.jsonOut {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			printTrace(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	f := historyCmd.Flags()
	f.IntVar(&limit, "limit", 50, "maximum entries")
	f.StringVar(&filter.RequestID, "request-id", "", "exact request id")
	f.StringVar(&filter.Action, "action", "", "action substring")
	f.StringVar(&filter.Target, "target", "", "target substring")
	f.StringVar(&filter.Command, "command", "", "command substring")
	f.BoolVar(&filter.FailedOnly, "failed", false, "only failed attempts")
	traceCmd.AddCommand(historyCmd)

	var days, rows int
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Prune archived entries by age and row count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.app.History.Cleanup(days, rows); err != nil {
				return err
			}
			n, err := st.app.History.Count()
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "%d archived entries kept", n)
			return nil
		},
	}
	cleanupCmd.Flags().IntVar(&days, "days", 30, "drop entries older than this many days (0 = keep)")
	cleanupCmd.Flags().IntVar(&rows, "max-rows", 10000, "keep at most this many entries (0 = unlimited)")
	traceCmd.AddCommand(cleanupCmd)
	return traceCmd
}
