package worker

import (
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DescendantPIDs returns all descendant process IDs of the given PID,
// depth-first. Agents routinely fork helpers; termination has to cover
// the whole tree or the channel directory ends up owned by orphans.
func DescendantPIDs(pid int) []int {
	var descendants []int

	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		// pgrep exits 1 when there are no children
		return descendants
	}

	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		child, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		descendants = append(descendants, child)
		descendants = append(descendants, DescendantPIDs(child)...)
	}

	return descendants
}

// IsAlive reports whether a process with the given PID exists. Signal 0
// performs the existence check without delivering anything.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Interrupt sends SIGINT to the process, giving it a chance to flush its
// output before harder measures.
func Interrupt(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGINT)
}

// KillTree force-kills a process and all of its descendants, children
// first so nothing gets reparented mid-sweep.
func KillTree(pid int) {
	descendants := DescendantPIDs(pid)
	for i := len(descendants) - 1; i >= 0; i-- {
		syscall.Kill(descendants[i], syscall.SIGKILL)
	}
	syscall.Kill(pid, syscall.SIGKILL)
}

// WaitForExit polls until the process no longer exists or the timeout
// elapses. Returns true if the process exited within the window.
func WaitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsAlive(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !IsAlive(pid)
}

// Terminate runs the graceful termination sequence: interrupt, wait out
// the grace window, then force-kill the remaining tree. Returns true if
// the process exited before the force-kill was needed.
func Terminate(pid int, grace time.Duration) bool {
	if !IsAlive(pid) {
		return true
	}

	Interrupt(pid)
	if WaitForExit(pid, grace) {
		return true
	}

	KillTree(pid)
	WaitForExit(pid, grace)
	return false
}
