// Package cli implements the CLI adapter for snapkeep.
// This package provides Cobra commands that delegate to the app layer.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bnema/snapkeep/internal/app"
	"github.com/bnema/snapkeep/internal/boundaries/in"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Local is the in-process service set used by one-shot commands.
type Local interface {
	Backup() in.BackupService
	Sweep(ctx context.Context) (int, error)
	Close() error
}

// LocalFactory opens local services for the given config path.
type LocalFactory func(configPath string) (Local, error)

// ServeFunc runs the server until ctx is cancelled.
type ServeFunc func(ctx context.Context, configPath string) error

// Deps are the entry points commands delegate to.
type Deps struct {
	OpenLocal LocalFactory
	Serve     ServeFunc
	// Running reports the PID of a running server, if any.
	Running func(configPath string) (int, bool)
}

// DefaultDeps wires the commands to the app package.
func DefaultDeps() Deps {
	return Deps{
		OpenLocal: func(configPath string) (Local, error) {
			return app.NewKernel(configPath)
		},
		Serve:   app.Run,
		Running: app.RunningPid,
	}
}

// NewRootCmd creates the root command for the snapkeep CLI.
func NewRootCmd(deps Deps) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "snapkeep",
		Short: "snapkeep - scheduled database and file backups",
		Long: `snapkeep takes scheduled and on-demand backups of a SQLite database and
an optional file tree, keeps them under a retention policy, and restores
SQL snapshots in a single transaction.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	withLocal := func(fn func(cmd *cobra.Command, local Local, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			local, err := deps.OpenLocal(configPath)
			if err != nil {
				return err
			}
			defer local.Close()
			return fn(cmd, local, args)
		}
	}

	rootCmd.AddCommand(newServeCmd(deps.Serve, &configPath))
	rootCmd.AddCommand(newStatusCmd(deps.Running, &configPath, withLocal))
	rootCmd.AddCommand(newBackupCmd(withLocal))
	rootCmd.AddCommand(newScheduleCmd(withLocal))
	rootCmd.AddCommand(newRestoreCmd(withLocal))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// localRunE adapts a command body to run against local services.
type localRunE func(fn func(cmd *cobra.Command, local Local, args []string) error) func(*cobra.Command, []string) error

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				cmd.Println(Version)
				return
			}
			cmd.Printf("snapkeep %s\n", Version)
			cmd.Printf("Commit: %s\n", Commit)
			cmd.Printf("Build Date: %s\n", BuildDate)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "Show only version number")
	return cmd
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(version, commit, date string) {
	if version != "" {
		Version = version
	}
	if commit != "" {
		Commit = commit
	}
	if date != "" {
		BuildDate = date
	}
}
