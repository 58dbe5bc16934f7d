package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newExecCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command...>",
		Short: "Run a raw command on the remote host",
		Long:  "Run a command through the remote SSH shell once, without retries. Output is printed as returned.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := st.ctx()
			defer cancel()
			out, err := st.app.Backend.SSHExec(ctx, st.target(), strings.Join(args, " "), st.flags.requestID)
			if err != nil {
				return err
			}
			if st.flags.jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]string{"output": out})
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
