package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version, BuildTime and GitCommit are injected at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "scriptexec %s\n", Version)
		fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		return nil
	},
}
