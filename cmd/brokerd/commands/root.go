// Package commands provides the brokerd CLI: serve/auth/debug
// subcommands, grounded on the teacher's cmd/opencode/commands split
// (root.go/serve.go/auth.go/debug.go) and repointed at broker concerns.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sessionbroker/broker/internal/logging"
)

var (
	// Version is set at build time.
	Version   = "0.1.0"
	BuildTime = "dev"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "brokerd",
	Short: "Session broker daemon",
	Long: `brokerd mediates between local browser/editor consumers and one or
more external AI-assistant backends, maintaining ordered conversation
state and fanning it out to many concurrent consumers.

Run 'brokerd serve' to start the broker, or 'brokerd debug'/'brokerd
auth' for operational utilities.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Pretty: true,
		})
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.SetVersionTemplate(fmt.Sprintf("brokerd %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getWorkDir returns dir if non-empty, else the process's cwd.
func getWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
