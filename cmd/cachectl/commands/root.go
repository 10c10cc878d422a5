// Package commands implements the cachectl command-line exerciser.
package commands

import (
	"os"

	configcmd "github.com/vfscache/corefs/cmd/cachectl/commands/config"
	"github.com/spf13/cobra"
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
	Use:   "cachectl",
	Short: "Exercise the inode cache and state coordination core",
	Long: `cachectl builds an in-memory backing adapter and the inode cache,
permission engine, state registry, and pseudo-filesystem that sit in front
of it, then runs scripted operations through pkg/ops for manual smoke
testing outside of go test.

Use "cachectl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/corefs/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scenariosCmd)
	rootCmd.AddCommand(configcmd.Cmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
