package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/wattbound/wattd/internal/daemon"
)

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective daemon configuration",
	RunE:  runConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to the config file",
	RunE:  runConfigInit,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("# %s\n", filepath.Join(daemon.WattdHome(), "config.toml"))
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(daemon.WattdHome(), "config.toml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if err := daemon.SaveConfig(daemon.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
