// Package fsprim implements POSIX-semantics delete of a single file or
// empty directory, directory enumeration, path existence/type queries, and
// error-kind classification, with the retry and active-cleanup policies
// layered on top of the platform-specific primitives.
package fsprim

import (
	"sort"
	"time"
)

// Entry describes one directory entry yielded by Enumerate.
type Entry struct {
	Path      string
	IsDir     bool
	IsSymlink bool
	Size      int64
}

// retryDelays are the sleep durations between the four delete_file/remove_dir
// attempts: no sleep before the first attempt, then increasing backoff.
var retryDelays = []time.Duration{0, time.Millisecond, 5 * time.Millisecond, 10 * time.Millisecond}

// dirNotEmptyCleanupRounds and cleanupDelays tune the active-cleanup passes
// performed when remove_dir keeps failing with dir-not-empty after the
// standard retries (hardlink-heavy trees such as a pnpm store).
const dirNotEmptyCleanupRounds = 5

var cleanupDelays = []time.Duration{
	time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
}

// Exists reports whether path refers to an existing filesystem entry.
func Exists(path string) bool {
	return rawExists(Normalize(path))
}

// IsDir reports whether path refers to a directory.
func IsDir(path string) bool {
	return rawIsDir(Normalize(path))
}

// Enumerate visits every immediate entry of dir, skipping "." and "..".
// A file-not-found or path-not-found condition (the directory was raced
// away, or is a broken reparse point) is treated as an empty result rather
// than an error.
func Enumerate(dir string, visit func(Entry) error) error {
	err := rawEnumerate(Normalize(dir), visit)
	if err != nil && IsNotFound(err) {
		return nil
	}
	return err
}

// DeleteFile removes a single file using the POSIX-semantics primitive,
// retrying on transient errors per the standard policy. Not-found is
// treated as success (idempotence).
func DeleteFile(path string) error {
	path = Normalize(path)
	var lastErr error
	for _, delay := range retryDelays {
		if delay > 0 {
			time.Sleep(delay)
		}
		err := rawDeleteFile(path)
		if err == nil || IsNotFound(err) {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	return lastErr
}

// RemoveDir removes a single empty directory using the POSIX-semantics
// primitive. On persistent dir-not-empty failures it runs the active
// cleanup passes before giving up.
func RemoveDir(path string) error {
	path = Normalize(path)
	var lastErr error
	for _, delay := range retryDelays {
		if delay > 0 {
			time.Sleep(delay)
		}
		err := rawRemoveDir(path)
		if err == nil || IsNotFound(err) {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	if lastErr != nil && IsDirNotEmpty(lastErr) {
		if err := activeCleanup(path); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

// activeCleanup re-enumerates dir and recursively removes stragglers
// smallest-first between retries of remove_dir, up to
// dirNotEmptyCleanupRounds passes.
func activeCleanup(dir string) error {
	var lastErr error
	for round := 0; round < dirNotEmptyCleanupRounds; round++ {
		time.Sleep(cleanupDelays[round])

		var stragglers []Entry
		_ = Enumerate(dir, func(e Entry) error {
			stragglers = append(stragglers, e)
			return nil
		})
		sort.Slice(stragglers, func(i, j int) bool { return stragglers[i].Size < stragglers[j].Size })

		for _, e := range stragglers {
			if e.IsDir {
				_ = RemoveDir(e.Path)
			} else {
				_ = DeleteFile(e.Path)
			}
		}

		lastErr = rawRemoveDir(dir)
		if lastErr == nil || IsNotFound(lastErr) {
			return nil
		}
		if !IsDirNotEmpty(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	return IsInUse(err) || IsDirNotEmpty(err)
}

// Normalize rewrites path the way the platform primitives expect it:
// forward slashes become backslashes and, on Windows, absolute paths are
// long-path prefixed. The portable build simply cleans the path.
func Normalize(path string) string {
	return normalize(path)
}
