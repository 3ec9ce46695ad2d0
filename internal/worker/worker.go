// Package worker implements the deletion worker pool: consuming work items
// from the broker's queue, deleting files sequentially or in parallel
// batches depending on batch size, removing now-empty directories, and
// escalating to process termination and cross-process handle closing when
// a target is locked.
package worker

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fastrm/fastrm/internal/broker"
	"github.com/fastrm/fastrm/internal/errtracker"
	"github.com/fastrm/fastrm/internal/fsprim"
	"github.com/fastrm/fastrm/internal/lock"
	"github.com/fastrm/fastrm/internal/logger"
)

// Config enumerates the worker pool's caller-facing knobs.
type Config struct {
	// Verbose is not read by the worker pool: it changes no output,
	// scheduling or error handling here. Debug output is governed by the
	// level set through logger.SetupLogging.
	Verbose bool
	// IgnoreErrors is plumbed through but intentionally never branched on
	// in this version — see DESIGN.md's resolution of the open question.
	IgnoreErrors bool
	// KillProcesses enables the two-stage escalation path (process kill,
	// then cross-process handle close) on locked files and directories.
	KillProcesses bool
}

// parallelThreshold selects the minimum batch size at which a batch is
// deleted with a data-parallel map instead of a sequential loop, scaled by
// CPU count.
func parallelThreshold() int {
	cores := runtime.NumCPU()
	switch {
	case cores <= 4:
		return 24
	case cores <= 8:
		return 16
	case cores <= 16:
		return 12
	default:
		return 8
	}
}

func minChunkSize() int {
	n := runtime.NumCPU() * 2
	if n < 4 {
		return 4
	}
	if n > 16 {
		return 16
	}
	return n
}

// SpawnWorkers starts n worker goroutines consuming from rx and reporting
// completions back into br, returning one done channel per worker that
// closes when that worker observes Shutdown.
func SpawnWorkers(n int, rx <-chan broker.WorkItem, br *broker.Broker, cfg Config, tr *errtracker.Tracker) []<-chan struct{} {
	done := make([]<-chan struct{}, n)
	for i := 0; i < n; i++ {
		ch := make(chan struct{})
		done[i] = ch
		go func(d chan struct{}) {
			defer close(d)
			runWorker(rx, br, cfg, tr)
		}(ch)
	}
	return done
}

func runWorker(rx <-chan broker.WorkItem, br *broker.Broker, cfg Config, tr *errtracker.Tracker) {
	for item := range rx {
		switch {
		case item.IsDeleteFiles():
			deleteFilesFromList(item.Files, cfg, tr)
			br.MarkBatchComplete(item.Dir)
		case item.IsProcessDir():
			files, _ := br.TakeFiles(item.Dir)
			deleteFilesFromList(files, cfg, tr)
			removeDirWithEscalation(item.Dir, cfg, tr)
			br.MarkComplete(item.Dir)
		case item.IsShutdown():
			return
		}
	}
}

// deleteFilesFromList deletes files, selecting a sequential or
// data-parallel strategy by batch size, then runs the locked-file
// escalation (if enabled) on whatever remained locked.
func deleteFilesFromList(files []string, cfg Config, tr *errtracker.Tracker) {
	if len(files) == 0 {
		return
	}

	var mu sync.Mutex
	var locked []string
	record := func(path string, err error) {
		if fsprim.IsNotFound(err) {
			return
		}
		if fsprim.IsInUse(err) {
			locked = append(locked, path)
			return
		}
		tr.RecordFailure(errtracker.FailedItem{Path: path, Message: err.Error(), IsDir: false})
	}

	if len(files) < parallelThreshold() {
		for _, f := range files {
			if err := fsprim.DeleteFile(f); err != nil {
				record(f, err)
			}
		}
	} else {
		chunk := minChunkSize()
		var g errgroup.Group
		for i := 0; i < len(files); i += chunk {
			end := i + chunk
			if end > len(files) {
				end = len(files)
			}
			batch := files[i:end]
			g.Go(func() error {
				for _, f := range batch {
					if err := fsprim.DeleteFile(f); err != nil {
						mu.Lock()
						record(f, err)
						mu.Unlock()
					}
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if len(locked) == 0 {
		return
	}
	if cfg.KillProcesses {
		handleLockedFiles(locked, tr)
		return
	}
	for _, f := range locked {
		tr.RecordFailure(errtracker.FailedItem{Path: f, Message: "file is locked by another process", IsDir: false})
	}
}

// handleLockedFiles is the two-stage escalation: batch-kill the processes
// Restart Manager reports for the paths and retry, then for whatever
// remains, force-close its handles and retry once more.
func handleLockedFiles(files []string, tr *errtracker.Tracker) {
	if err := lock.KillLockingBatch(files); err != nil {
		logger.Debug("worker: kill-locking batch reported: %v", err)
	}

	var stillLocked []string
	for _, f := range files {
		if err := fsprim.DeleteFile(f); err != nil && !fsprim.IsNotFound(err) {
			stillLocked = append(stillLocked, f)
		}
	}
	if len(stillLocked) == 0 {
		return
	}

	if _, err := lock.ForceCloseFileHandles(stillLocked...); err != nil {
		logger.Debug("worker: force-close-file-handles reported: %v", err)
	}

	for _, f := range stillLocked {
		if err := fsprim.DeleteFile(f); err != nil && !fsprim.IsNotFound(err) {
			tr.RecordFailure(errtracker.FailedItem{Path: f, Message: err.Error(), IsDir: false})
		}
	}
}

// removeDirWithEscalation removes dir, treating not-found as success and
// escalating through process-kill then handle force-close when in-use and
// the caller opted into kill_processes.
func removeDirWithEscalation(dir string, cfg Config, tr *errtracker.Tracker) {
	err := fsprim.RemoveDir(dir)
	if err == nil || fsprim.IsNotFound(err) {
		return
	}

	if fsprim.IsInUse(err) && cfg.KillProcesses {
		if kerr := lock.KillLocking(dir); kerr != nil {
			logger.Debug("worker: kill-locking %s reported: %v", dir, kerr)
		}
		if err = fsprim.RemoveDir(dir); err == nil || fsprim.IsNotFound(err) {
			return
		}

		if _, cerr := lock.ForceCloseFileHandles(dir); cerr != nil {
			logger.Debug("worker: force-close-file-handles %s reported: %v", dir, cerr)
		}
		if err = fsprim.RemoveDir(dir); err == nil || fsprim.IsNotFound(err) {
			return
		}
	}

	tr.RecordFailure(errtracker.FailedItem{Path: dir, Message: err.Error(), IsDir: true})
}
