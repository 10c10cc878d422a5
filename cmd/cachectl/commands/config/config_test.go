package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/vfscache/corefs/pkg/config"
)

// newTestCmd wires up a bare root so runInit/runConfigShow can read their
// --config flag the way the real root command's persistent flag would.
func newTestCmd() *cobra.Command {
	root := &cobra.Command{Use: "cachectl"}
	root.PersistentFlags().String("config", "", "")
	root.AddCommand(Cmd)
	return root
}

func TestRunInitWritesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	root := newTestCmd()
	root.SetArgs([]string{"config", "init", "--config", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file at %s: %v", path, err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.Backing.Type != "memory" {
		t.Fatalf("expected default backing type memory, got %q", cfg.Backing.Type)
	}
}

func TestRunInitRefusesOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	root := newTestCmd()
	root.SetArgs([]string{"config", "init", "--config", path})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected init to refuse overwriting an existing file at a non-default path")
	}
}

func TestRunConfigShowPrintsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	root := newTestCmd()
	root.SetArgs([]string{"config", "show", "--config", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}
}
