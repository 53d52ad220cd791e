package worker

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/conclavehq/conclave/internal/agent"
	"github.com/conclavehq/conclave/internal/logging"
)

// SweepResult summarizes one orphan sweep over an execution channel.
type SweepResult struct {
	// Killed holds the PIDs of orphaned processes that were terminated.
	Killed []int
	// Stale counts pid files whose process was already gone.
	Stale int
}

// SweepOrphans scans an execution-channel directory for pid files left by
// a prior run and terminates any processes still alive. It runs before
// every spawn so two generations of workers never share a channel.
//
// Side-channel files from the prior run are removed along with the pid
// files; the new run starts against a clean directory.
func SweepOrphans(channelDir string, grace time.Duration, logger *logging.Logger) (SweepResult, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	var result SweepResult

	entries, err := os.ReadDir(channelDir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), agent.PIDSuffix) {
			continue
		}

		pidPath := filepath.Join(channelDir, entry.Name())
		raw, err := os.ReadFile(pidPath)
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			os.Remove(pidPath)
			result.Stale++
			continue
		}

		if IsAlive(pid) {
			logger.Warn("terminating orphaned worker process",
				"pid", pid, "pid_file", entry.Name())
			Terminate(pid, grace)
			result.Killed = append(result.Killed, pid)
		} else {
			result.Stale++
		}
		os.Remove(pidPath)

		// Drop the orphan's side-channel files so the new run cannot
		// mistake them for fresh output
		workerID := strings.TrimSuffix(entry.Name(), agent.PIDSuffix)
		os.Remove(filepath.Join(channelDir, workerID+agent.OutputSuffix))
		os.Remove(filepath.Join(channelDir, workerID+agent.MarkerSuffix))
		os.Remove(filepath.Join(channelDir, workerID+agent.TrajectorySuffix))
	}

	return result, nil
}
