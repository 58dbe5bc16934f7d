package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

func newVMCmd(st *cliState) *cobra.Command {
	vmCmd := &cobra.Command{
		Use:   "vm",
		Short: "Control VMware Workstation virtual machines",
	}
	var showTrace bool
	vmCmd.PersistentFlags().BoolVar(&showTrace, "show-trace", false, "print the trace entries recorded by this command")
	withTrace := func(run func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args)
			if showTrace && !st.flags.jsonOut {
				fmt.Fprintln(cmd.ErrOrStderr())
				printTrace(cmd.ErrOrStderr(), st.app.Backend.TraceList())
			}
			return err
		}
	}

	vmCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List running virtual machines",
		Args:  cobra.NoArgs,
		RunE: withTrace(func(cmd *cobra.Command, args []string) error {
			ctx, cancel := st.ctx()
			defer cancel()
			paths, err := st.app.Backend.VMwareListRunning(ctx, st.target(), st.flags.requestID)
			if err != nil {
				return err
			}
			if st.flags.jsonOut {
				return printJSON(cmd.OutOrStdout(), paths)
			}
			printPaths(cmd.OutOrStdout(), "running VM(s)", paths)
			return nil
		}),
	})

	var startPwStdin bool
	startCmd := &cobra.Command{
		Use:   "start <vmx>",
		Short: "Start a virtual machine (no GUI) and wait until it is listed as running",
		Args:  cobra.ExactArgs(1),
		RunE: withTrace(func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, startPwStdin)
			if err != nil {
				return err
			}
			ctx, cancel := st.ctx()
			defer cancel()
			if _, err := st.app.Backend.VMwareStartVM(ctx, st.target(), args[0], pw, st.flags.requestID); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "started %s", args[0])
			return nil
		}),
	}
	startCmd.Flags().BoolVar(&startPwStdin, "password-stdin", false, "read the VM encryption password from stdin")
	vmCmd.AddCommand(startCmd)

	var (
		stopMode    string
		stopPwStdin bool
	)
	stopCmd := &cobra.Command{
		Use:   "stop <vmx>",
		Short: "Stop a virtual machine and wait until it is no longer running",
		Args:  cobra.ExactArgs(1),
		RunE: withTrace(func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, stopPwStdin)
			if err != nil {
				return err
			}
			ctx, cancel := st.ctx()
			defer cancel()
			if _, err := st.app.Backend.VMwareStopVM(ctx, st.target(), args[0], stopMode, pw, st.flags.requestID); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "stopped %s", args[0])
			return nil
		}),
	}
	stopCmd.Flags().StringVar(&stopMode, "mode", "soft", "stop mode: soft|hard")
	stopCmd.Flags().BoolVar(&stopPwStdin, "password-stdin", false, "read the VM encryption password from stdin")
	vmCmd.AddCommand(stopCmd)

	vmCmd.AddCommand(&cobra.Command{
		Use:   "scan [roots...]",
		Short: "Find .vmx files under the default VM folders or the given roots",
		RunE: withTrace(func(cmd *cobra.Command, args []string) error {
			ctx, cancel := st.ctx()
			defer cancel()
			var (
				paths []string
				err   error
			)
			if len(args) == 0 {
				paths, err = st.app.Backend.VMwareScanDefaultVMX(ctx, st.target(), st.flags.requestID)
			} else {
				paths, err = st.app.Backend.VMwareScanVMX(ctx, st.target(), args, st.flags.requestID)
			}
			if err != nil {
				return err
			}
			if st.flags.jsonOut {
				return printJSON(cmd.OutOrStdout(), paths)
			}
			printPaths(cmd.OutOrStdout(), ".vmx file(s)", paths)
			return nil
		}),
	})

	var fromCatalog bool
	statusCmd := &cobra.Command{
		Use:   "status [vmx...]",
		Short: "Show whether the given (or catalogued) VMs are running",
		RunE: withTrace(func(cmd *cobra.Command, args []string) error {
			paths := append([]string(nil), args...)
			if fromCatalog {
				ms, err := st.app.Machines.ListAll()
				if err != nil {
					return err
				}
				for _, m := range ms {
					paths = append(paths, m.DefinitionPath)
				}
			}
			if len(paths) == 0 {
				return domain.Validation("no VM paths given (pass paths or --catalog)")
			}
			ctx, cancel := st.ctx()
			defer cancel()
			status, err := st.app.Backend.VMwareStatusForKnown(ctx, st.target(), paths, st.flags.requestID)
			if err != nil {
				return err
			}
			if st.flags.jsonOut {
				return printJSON(cmd.OutOrStdout(), status)
			}
			for _, s := range status {
				state := faint("stopped")
				if s.Running {
					state = green("running")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", state, s.DefinitionPath)
			}
			return nil
		}),
	}
	statusCmd.Flags().BoolVar(&fromCatalog, "catalog", false, "include every VM in the local catalog")
	vmCmd.AddCommand(statusCmd)
	return vmCmd
}

// readPassword 读取 stdin 第一行作为口令
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if !fromStdin {
		return "", nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
