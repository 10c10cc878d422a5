package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vfscache/corefs/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the effective cachectl configuration: the config file (if any)
layered over environment variables and defaults.

Examples:
  # Show the config at the default location, or defaults if absent
  cachectl config show

  # Show a specific config file
  cachectl --config /etc/cachectl/config.yaml config show`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = os.Stdout.Write(data)
	return err
}
