package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newServeCmd creates the serve command.
func newServeCmd(serve ServeFunc, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the snapkeep server",
		Long: `Start the scheduler, the retention sweep and the HTTP API.
The server stops cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

// newStatusCmd reports whether a server is running and the latest jobs.
func newStatusCmd(running func(string) (int, bool), configPath *string, withLocal localRunE) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server state and recent jobs",
		Args:  cobra.NoArgs,
		RunE: withLocal(func(cmd *cobra.Command, local Local, args []string) error {
			w := cmd.OutOrStdout()
			if pid, ok := running(*configPath); ok {
				if err := cliWriteLine(w, "Server: running (pid %d)", pid); err != nil {
					return err
				}
			} else if err := cliWriteLine(w, "Server: not running"); err != nil {
				return err
			}

			schedules, err := local.Backup().ListSchedules(cmd.Context())
			if err != nil {
				return err
			}
			enabled := 0
			for _, sc := range schedules {
				if sc.Enabled {
					enabled++
				}
			}
			if err := cliWriteLine(w, "Schedules: %d (%d enabled)", len(schedules), enabled); err != nil {
				return err
			}
			return printJobs(cmd, local, jobQuery{limit: limit})
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Number of recent jobs to show")
	return cmd
}
