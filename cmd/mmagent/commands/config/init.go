package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FFTY50/micromanager-pos-sub000/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample agent configuration file.

By default, the file is created at $XDG_CONFIG_HOME/micromanager/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  mmagent config init

  # Initialize with custom path
  mmagent config init --config /etc/micromanager/config.yaml

  # Force overwrite existing config
  mmagent config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set upstream.lines_url and upstream.transactions_url to your intake")
	fmt.Println("  2. Set serial.port, or leave it empty to autodetect a USB adapter")
	fmt.Println("  3. Start the agent with: mmagent start")
	return nil
}
