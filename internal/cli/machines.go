package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
	"github.com/QingMing-Bot/vmrun-ssh-manager/pkg/importexport"
)

func newMachinesCmd(st *cliState) *cobra.Command {
	mCmd := &cobra.Command{
		Use:     "machines",
		Aliases: []string{"m"},
		Short:   "Manage the local catalog of known VM definitions",
	}

	var (
		addName   string
		addPinned bool
	)
	addCmd := &cobra.Command{
		Use:   "add <vmx...>",
		Short: "Add or update catalog entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ms := make([]domain.ManagedMachine, 0, len(args))
			for _, p := range args {
				ms = append(ms, domain.ManagedMachine{DefinitionPath: p, DisplayNameOverride: addName, Pinned: addPinned})
			}
			if err := importexport.ValidateMachines(ms); err != nil {
				return domain.Validation(err.Error())
			}
			for i := range ms {
				if err := st.app.Machines.Save(&ms[i]); err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "%s %s", ms[i].DisplayName(), faint(ms[i].DefinitionPath))
			}
			return nil
		},
	}
	addCmd.Flags().StringVar(&addName, "name", "", "display name")
	addCmd.Flags().BoolVar(&addPinned, "pinned", false, "pin to the top of the list")
	mCmd.AddCommand(addCmd)

	var listFilter string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries (pinned first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := st.app.Machines.SearchByPath(listFilter)
			if err != nil {
				return err
			}
			if st.flags.jsonOut {
				if ms == nil {
					ms = []domain.ManagedMachine{}
				}
				return printJSON(cmd.OutOrStdout(), ms)
			}
			if len(ms) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), yellow("No machines in catalog"))
				return nil
			}
			for _, m := range ms {
				pin := " "
				if m.Pinned {
					pin = yellow("*")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-24s %s\n", pin, m.DisplayName(), faint(m.DefinitionPath))
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&listFilter, "filter", "", "path substring")
	mCmd.AddCommand(listCmd)

	mCmd.AddCommand(&cobra.Command{
		Use:     "rm <vmx>",
		Aliases: []string{"remove"},
		Short:   "Remove a catalog entry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.app.Machines.DeleteByPath(args[0]); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "removed %s", args[0])
			return nil
		},
	})

	var unpin bool
	pinCmd := &cobra.Command{
		Use:   "pin <vmx>",
		Short: "Pin (or with --off unpin) a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.app.Machines.SetPinned(args[0], !unpin); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "updated %s", args[0])
			return nil
		},
	}
	pinCmd.Flags().BoolVar(&unpin, "off", false, "unpin")
	mCmd.AddCommand(pinCmd)

	mCmd.AddCommand(&cobra.Command{
		Use:   "rename <vmx> <name>",
		Short: "Set the display name (empty name restores the file name)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.app.Machines.Rename(args[0], args[1]); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "renamed %s", args[0])
			return nil
		},
	})

	var importFormat string
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import catalog entries from JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			format := importFormat
			if format == "" {
				format = strings.TrimPrefix(strings.ToLower(filepath.Ext(args[0])), ".")
			}
			var ms []domain.ManagedMachine
			if format == "csv" {
				ms, err = importexport.ParseMachinesCSV(data)
			} else {
				ms, err = importexport.ParseMachinesJSON(data)
			}
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			if err := importexport.ValidateMachines(ms); err != nil {
				return domain.Validation(err.Error())
			}
			if err := st.app.Machines.BulkUpsert(ms); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "imported %d machine(s)", len(ms))
			return nil
		},
	}
	importCmd.Flags().StringVar(&importFormat, "format", "", "json|csv (default from file extension)")
	mCmd.AddCommand(importCmd)

	var exportFormat string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the catalog to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := st.app.Machines.ListAll()
			if err != nil {
				return err
			}
			if exportFormat == "csv" {
				fmt.Fprint(cmd.OutOrStdout(), importexport.RenderMachinesCSV(ms))
				return nil
			}
			s, err := importexport.SerializeMachinesJSON(ms)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "json|csv")
	mCmd.AddCommand(exportCmd)
	return mCmd
}
