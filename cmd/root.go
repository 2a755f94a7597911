// Package cmd is the snapkeep entry point.
package cmd

import (
	"os"

	"github.com/bnema/snapkeep/internal/adapters/in/cli"
)

// ExecuteCLI runs the root command with the build metadata injected by the linker.
func ExecuteCLI(version, commit, date string) {
	cli.SetVersionInfo(version, commit, date)
	if err := cli.NewRootCmd(cli.DefaultDeps()).Execute(); err != nil {
		os.Exit(1)
	}
}
