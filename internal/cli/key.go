package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newKeyCmd(st *cliState) *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the locally stored SSH private key",
	}
	keyCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether a private key is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := st.app.Backend.SSHKeyStatus()
			if err != nil {
				return err
			}
			if st.flags.jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]bool{"configured": ok})
			}
			if ok {
				printOK(cmd.OutOrStdout(), "private key configured")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), yellow("private key not configured"))
			}
			return nil
		},
	})
	keyCmd.AddCommand(&cobra.Command{
		Use:   "set <file|->",
		Short: "Store a private key read from a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				b   []byte
				err error
			)
			if args[0] == "-" {
				b, err = io.ReadAll(io.LimitReader(cmd.InOrStdin(), int64(st.cfg.KeyMaxBytes)+1))
			} else {
				b, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			if err := st.app.Backend.SSHSetPrivateKey(string(b)); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "private key stored")
			return nil
		},
	})
	keyCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored private key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.app.Backend.SSHClearPrivateKey(); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "private key cleared")
			return nil
		},
	})
	return keyCmd
}
