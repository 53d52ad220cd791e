package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conclavehq/conclave/internal/config"
	"github.com/conclavehq/conclave/internal/worker"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Terminate orphaned workers from previous runs",
	Long: `Scan the worker side-channel directories for PID files left by
previous orchestrator generations and terminate any process that is
still alive. Stale side-channel files are removed.

The orchestrator sweeps automatically before every spawn; this command
exists for manual cleanup after a crash.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, cleanup, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	root := channelRoot(cfg)
	dirs, err := channelDirs(root)
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		fmt.Println("No worker channels found.")
		return nil
	}

	killed, stale := 0, 0
	for _, dir := range dirs {
		res, err := worker.SweepOrphans(dir, cfg.Worker.Grace(), logger)
		if err != nil {
			return fmt.Errorf("sweep of %s failed: %w", dir, err)
		}
		killed += len(res.Killed)
		stale += res.Stale
	}

	fmt.Printf("Swept %d channel(s): %d orphan(s) terminated, %d stale record(s) cleared\n",
		len(dirs), killed, stale)
	return nil
}

// channelDirs lists the per-(work item, stage) channel directories under
// the channel root.
func channelDirs(root string) ([]string, error) {
	items, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		stages, err := os.ReadDir(filepath.Join(root, item.Name()))
		if err != nil {
			return nil, err
		}
		for _, stage := range stages {
			if stage.IsDir() {
				dirs = append(dirs, filepath.Join(root, item.Name(), stage.Name()))
			}
		}
	}
	return dirs, nil
}
