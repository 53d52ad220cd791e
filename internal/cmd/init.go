package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conclavehq/conclave/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Create the config directory and write a config.yaml populated with
default values. Existing config files are never overwritten.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path := config.ConfigFile()
	if _, err := os.Stat(path); err == nil {
		fmt.Println("Config file already exists:", path)
		return nil
	}

	if err := viper.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Println("Wrote default config to:", path)
	fmt.Println("Add an agents list before dispatching runs, e.g.:")
	fmt.Println(`
agents:
  - name: falcon
    command: falcon-agent
    args: ["--quiet"]
  - name: heron
    command: heron-agent`)
	return nil
}
