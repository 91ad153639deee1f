// Package commands implements the CLI commands for the micromanager agent.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/FFTY50/micromanager-pos-sub000/cmd/mmagent/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mmagent",
	Short: "Micromanager POS edge agent",
	Long: `mmagent taps the receipt printer port of a Verifone Commander POS,
reassembles the byte stream into transactions, and delivers them to an HTTP
intake. Payloads are queued on disk and survive restarts and multi-day
upstream outages; an optional video recorder event brackets each transaction.

Use "mmagent [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/micromanager/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(config.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
