package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/snapkeep/internal/domain"
)

// newBackupCmd creates the backup command group.
func newBackupCmd(withLocal localRunE) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run and inspect backups",
	}

	cmd.AddCommand(newBackupRunCmd(withLocal))
	cmd.AddCommand(newBackupListCmd(withLocal))
	cmd.AddCommand(newBackupJobsCmd(withLocal))
	cmd.AddCommand(newBackupSweepCmd(withLocal))

	return cmd
}

func newBackupRunCmd(withLocal localRunE) *cobra.Command {
	var (
		backupType, format string
		zip                bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an ad-hoc backup now",
		Args:  cobra.NoArgs,
		RunE: withLocal(func(cmd *cobra.Command, local Local, args []string) error {
			result, err := local.Backup().Execute(cmd.Context(), domain.RunBackup{
				Type:   domain.BackupType(backupType),
				Format: domain.BackupFormat(format),
				Zip:    zip,
			})
			if result != nil {
				if perr := printJob(cmd, result.Job); perr != nil {
					return perr
				}
			}
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&backupType, "type", "t", string(domain.BackupTypeDatabase), "Backup type: database, files or full")
	cmd.Flags().StringVarP(&format, "format", "f", string(domain.BackupFormatSQL), "Database format: sql or json")
	cmd.Flags().BoolVar(&zip, "zip", false, "Package the artifact as a zip with a manifest")
	return cmd
}

func newBackupListCmd(withLocal localRunE) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored backup artifacts",
		Args:  cobra.NoArgs,
		RunE: withLocal(func(cmd *cobra.Command, local Local, args []string) error {
			files, err := local.Backup().ListBackups(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}

			w := cmd.OutOrStdout()
			if len(files) == 0 {
				return cliWriteLine(w, "No backups found")
			}
			t := newTable(w, "FILE", "TYPE", "FORMAT", "SIZE", "CREATED", "SCHEDULE")
			for _, f := range files {
				t.row(f.Filename, orDash(string(f.Type)), orDash(string(f.Format)),
					formatSize(f.Size), formatAgo(f.Created), orDash(f.ScheduleID))
			}
			return t.flush()
		}),
	}
}

func newBackupJobsCmd(withLocal localRunE) *cobra.Command {
	var q jobQuery

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List job history",
		Args:  cobra.NoArgs,
		RunE: withLocal(func(cmd *cobra.Command, local Local, args []string) error {
			return printJobs(cmd, local, q)
		}),
	}

	cmd.Flags().StringVar(&q.scheduleID, "schedule", "", "Only jobs of this schedule")
	cmd.Flags().StringVar(&q.status, "status", "", "Only jobs with this status")
	cmd.Flags().StringVar(&q.kind, "kind", "", "Only jobs of this kind: backup or restore")
	cmd.Flags().IntVarP(&q.limit, "limit", "n", 20, "Maximum number of jobs")
	return cmd
}

func newBackupSweepCmd(withLocal localRunE) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Apply the retention policy once",
		Args:  cobra.NoArgs,
		RunE: withLocal(func(cmd *cobra.Command, local Local, args []string) error {
			deleted, err := local.Sweep(cmd.Context())
			if werr := cliWriteLine(cmd.OutOrStdout(), "Deleted %d expired backup(s)", deleted); werr != nil {
				return werr
			}
			if err != nil {
				return fmt.Errorf("retention sweep: %w", err)
			}
			return nil
		}),
	}
}
