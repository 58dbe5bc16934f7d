package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/e2e"
)

func newE2ECmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "e2e",
		Short: "Run the end-to-end verification against a real host (VMCTL_E2E_* environment)",
		Long: `Run the end-to-end verification sequence against a real Windows host.

Required: VMCTL_E2E_HOST, VMCTL_E2E_PORT, VMCTL_E2E_USER.
Optional: VMCTL_E2E_KEY (inline private key, stored in a throwaway directory),
VMCTL_E2E_VMX (enables start/stop), VMCTL_E2E_SCAN_ROOTS (JSON array),
VMCTL_E2E_HARD_STOP, VMCTL_E2E_STEP_TIMEOUT.

Prints a single VMCTL_E2E_RESULT line and exits 0 on PASS, 1 otherwise.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoApp: "1"},
		RunE: func(cmd *cobra.Command, args []string) error {
			env, envErr := e2e.EnvFromOS(os.Getenv)
			cleanup := func() {}
			opts := appOptions{exit: func(code int) {
				st.close()
				cleanup()
				os.Exit(code)
			}}
			if envErr == nil && env.Key != "" {
				dir, rm, err := tempKeyDir()
				if err != nil {
					return err
				}
				opts.keyDir, cleanup = dir, rm
			}
			app, err := buildApp(st.cfg, opts)
			if err != nil {
				cleanup()
				return err
			}
			st.app = app
			if envErr != nil {
				e2e.FailEarly(app.Backend, envErr, cmd.OutOrStdout())
				return nil
			}
			e2e.Execute(context.Background(), app.Backend, env, cmd.OutOrStdout(), app.Log)
			return nil
		},
	}
}
