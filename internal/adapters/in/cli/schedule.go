package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/snapkeep/internal/domain"
)

// newScheduleCmd creates the schedule command group.
func newScheduleCmd(withLocal localRunE) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"schedules"},
		Short:   "Manage backup schedules",
	}

	cmd.AddCommand(newScheduleCreateCmd(withLocal))
	cmd.AddCommand(newScheduleListCmd(withLocal))
	cmd.AddCommand(newScheduleToggleCmd(withLocal))
	cmd.AddCommand(newScheduleRunCmd(withLocal))
	cmd.AddCommand(newScheduleDeleteCmd(withLocal))

	return cmd
}

func newScheduleCreateCmd(withLocal localRunE) *cobra.Command {
	var (
		create   domain.CreateSchedule
		typ      string
		format   string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "create <name> <cron>",
		Short: "Create a schedule",
		Long: `Create a recurring backup. The cron expression has five fields
(minute hour day-of-month month day-of-week) or is one of the
@hourly, @daily, @weekly, @monthly, @yearly shortcuts.`,
		Example: `  snapkeep schedule create nightly "0 2 * * *" --retention 7
  snapkeep schedule create uploads "@weekly" --type files --retention 30`,
		Args: cobra.ExactArgs(2),
		RunE: withLocal(func(cmd *cobra.Command, local Local, args []string) error {
			create.Name = args[0]
			create.Cron = args[1]
			create.Type = domain.BackupType(typ)
			create.Format = domain.BackupFormat(format)
			enabled := !disabled
			create.Enabled = &enabled

			result, err := local.Backup().Execute(cmd.Context(), create)
			if err != nil {
				return fmt.Errorf("failed to create schedule: %w", err)
			}
			return printSchedules(cmd, []domain.BackupSchedule{*result.Schedule})
		}),
	}

	cmd.Flags().StringVarP(&typ, "type", "t", string(domain.BackupTypeDatabase), "Backup type: database, files or full")
	cmd.Flags().StringVarP(&format, "format", "f", string(domain.BackupFormatSQL), "Database format: sql or json")
	cmd.Flags().IntVarP(&create.RetentionDays, "retention", "r", 7, "Days to keep backups")
	cmd.Flags().StringVar(&create.Timezone, "timezone", "", "IANA timezone for the cron expression")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	return cmd
}

func newScheduleListCmd(withLocal localRunE) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: withLocal(func(cmd *cobra.Command, local Local, args []string) error {
			schedules, err := local.Backup().ListSchedules(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}
			return printSchedules(cmd, schedules)
		}),
	}
}

func newScheduleToggleCmd(withLocal localRunE) *cobra.Command {
	var enable, disable bool

	cmd := &cobra.Command{
		Use:   "toggle <id>",
		Short: "Enable or disable a schedule",
		Long:  `Flip a schedule between enabled and disabled, or force a state with --enable or --disable.`,
		Args:  cobra.ExactArgs(1),
		RunE: withLocal(func(cmd *cobra.Command, local Local, args []string) error {
			toggle := domain.ToggleSchedule{ID: args[0]}
			switch {
			case enable:
				v := true
				toggle.Enabled = &v
			case disable:
				v := false
				toggle.Enabled = &v
			}

			result, err := local.Backup().Execute(cmd.Context(), toggle)
			if err != nil {
				return fmt.Errorf("failed to toggle schedule: %w", err)
			}
			return printSchedules(cmd, []domain.BackupSchedule{*result.Schedule})
		}),
	}

	cmd.Flags().BoolVar(&enable, "enable", false, "Enable the schedule")
	cmd.Flags().BoolVar(&disable, "disable", false, "Disable the schedule")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")
	return cmd
}

func newScheduleRunCmd(withLocal localRunE) *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Run a schedule now",
		Args:  cobra.ExactArgs(1),
		RunE: withLocal(func(cmd *cobra.Command, local Local, args []string) error {
			result, err := local.Backup().Execute(cmd.Context(), domain.RunSchedule{ID: args[0]})
			if result != nil {
				if perr := printJob(cmd, result.Job); perr != nil {
					return perr
				}
			}
			if err != nil {
				return fmt.Errorf("schedule run failed: %w", err)
			}
			return nil
		}),
	}
}

func newScheduleDeleteCmd(withLocal localRunE) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a schedule",
		Long:    `Delete a schedule. Its existing artifacts are kept and become manual backups.`,
		Args:    cobra.ExactArgs(1),
		RunE: withLocal(func(cmd *cobra.Command, local Local, args []string) error {
			if _, err := local.Backup().Execute(cmd.Context(), domain.DeleteSchedule{ID: args[0]}); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}
			return cliWriteLine(cmd.OutOrStdout(), "Deleted schedule %s", args[0])
		}),
	}
}
