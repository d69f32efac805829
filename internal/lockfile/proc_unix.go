//go:build !windows

package lockfile

import (
	"errors"
	"os"
	"syscall"
)

// processAlive reports whether a process with the given pid exists, using
// signal 0 as a liveness probe. EPERM means the process exists but belongs
// to another user, which still counts as alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
