package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vfscache/corefs/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample cachectl configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/corefs/config.yaml
(~/.config/corefs/config.yaml when XDG_CONFIG_HOME is unset).
Use --config on the root command to specify a custom path.

Examples:
  # Initialize with default location
  cachectl config init

  # Initialize with custom path
  cachectl --config /etc/cachectl/config.yaml config init

  # Force overwrite an existing config
  cachectl config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Run the end-to-end scenarios with: cachectl scenarios")
	fmt.Printf("  3. Or point at it explicitly: cachectl --config %s scenarios\n", configPath)

	return nil
}
