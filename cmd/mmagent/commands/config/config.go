// Package config implements the "mmagent config" command group.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for configuration management.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage agent configuration",
	Long: `Manage the agent configuration file.

Subcommands initialize a sample configuration, display the effective
configuration, and generate a JSON schema for editor validation.`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(schemaCmd)
}
