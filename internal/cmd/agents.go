package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conclavehq/conclave/internal/config"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the configured agent roster",
	RunE:  runAgents,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if len(cfg.Agents) == 0 {
		fmt.Printf("No agents configured. Add an agents list to %s\n", config.ConfigFile())
		return nil
	}

	for i, a := range cfg.Agents {
		command := a.Command
		if len(a.Args) > 0 {
			command += " " + strings.Join(a.Args, " ")
		}
		fmt.Printf("%d. %s\n   command: %s\n", i+1, a.Name, command)
		if a.Instructions != "" {
			fmt.Printf("   instructions: %s\n", truncate(a.Instructions, 80))
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
