package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bnema/snapkeep/internal/domain"
)

func newRestoreCmd(withLocal localRunE) *cobra.Command {
	var artifact bool

	cmd := &cobra.Command{
		Use:   "restore <file.sql>",
		Short: "Restore the database from a SQL snapshot",
		Long: `Replay a SQL snapshot against the live database in one transaction.
With --artifact the argument names a stored backup instead of a local file.`,
		Args: cobra.ExactArgs(1),
		RunE: withLocal(func(cmd *cobra.Command, local Local, args []string) error {
			restore := domain.Restore{Filename: args[0]}
			if !artifact {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open snapshot: %w", err)
				}
				defer f.Close()
				restore = domain.Restore{Snapshot: f, Filename: filepath.Base(args[0])}
			}

			result, err := local.Backup().Execute(cmd.Context(), restore)
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			if result.Report == nil {
				return printJob(cmd, result.Job)
			}
			return cliWriteLine(cmd.OutOrStdout(), "Restored %d statement(s), %d table(s), %d row(s) in %s",
				result.Report.Statements, result.Report.Tables, result.Report.Rows, result.Report.Duration)
		}),
	}

	cmd.Flags().BoolVar(&artifact, "artifact", false, "Restore a stored backup by filename")
	return cmd
}
