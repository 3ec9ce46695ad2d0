// Package lock implements the process-lock subsystem: identifying which
// processes hold a path open, terminating them, and force-closing
// individual kernel handles across process boundaries.
package lock

import "errors"

// ErrNotSupported is returned by operations that have no meaningful
// implementation on the current platform (handle-table enumeration is
// Windows-only).
var ErrNotSupported = errors.New("lock: not supported on this platform")

// Process describes one process reported as holding a target path open.
type Process struct {
	PID     uint32
	Name    string
	ExePath string
}
