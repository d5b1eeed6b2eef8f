// Command scriptexec runs the sandboxed script executor as a standalone
// HTTP service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "scriptexec",
	Short:         "scriptexec — sandboxed Lua script execution service",
	Long:          "scriptexec runs agent-generated scripts under a resource-bounded sandbox and exposes the result over HTTP.",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
