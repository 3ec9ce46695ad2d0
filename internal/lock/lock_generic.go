//go:build !windows

package lock

import (
	"fmt"
	"os"

	ps "github.com/mitchellh/go-ps"

	"github.com/fastrm/fastrm/internal/logger"
)

// FindLocking has no portable equivalent of Restart Manager; outside
// Windows we cannot determine which processes hold a specific file open,
// so this returns an empty result rather than an error.
func FindLocking(paths ...string) ([]Process, error) {
	logger.Debug("lock: process-open detection is Windows-only; reporting no locking processes on this platform")
	return nil, nil
}

// KillProcess resolves pid via go-ps (the portable process enumerator) and
// terminates it through the standard library.
func KillProcess(pid uint32) error {
	if pid == 0 {
		return fmt.Errorf("lock: refusing to terminate pid 0")
	}
	procs, err := ps.Processes()
	if err != nil {
		return fmt.Errorf("lock: enumerate processes: %w", err)
	}
	found := false
	for _, p := range procs {
		if uint32(p.Pid()) == pid {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("lock: pid %d not found", pid)
	}
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return err
	}
	return proc.Kill()
}

// KillLocking has no portable way to discover who holds a path open, so it
// is a no-op outside Windows.
func KillLocking(paths ...string) error {
	return nil
}

func KillLockingBatch(paths []string) error {
	return KillLocking(paths...)
}

// ForceCloseFileHandles requires system-wide handle-table enumeration,
// which is Windows-only.
func ForceCloseFileHandles(paths ...string) (int, error) {
	return 0, ErrNotSupported
}
