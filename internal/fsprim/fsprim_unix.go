//go:build !windows

// This file is the portable standard-file-system fallback named in the
// spec's scope note: it exists so the engine (and its unit tests) compile
// and run on non-Windows systems, not as a production delete strategy.
package fsprim

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

func rawExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func rawIsDir(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}

func rawEnumerate(dir string, visit func(Entry) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, de := range entries {
		info, err := de.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		full := filepath.Join(dir, de.Name())
		isSymlink := info.Mode()&os.ModeSymlink != 0
		if err := visit(Entry{Path: full, IsDir: de.IsDir(), IsSymlink: isSymlink, Size: info.Size()}); err != nil {
			return err
		}
	}
	return nil
}

// rawDeleteFile and rawRemoveDir use unlinkat against the parent directory
// fd, the nearest POSIX analogue of "unlink a name while other handles to
// the inode remain open" available outside Windows.
func rawDeleteFile(path string) error {
	return unlinkAt(path, 0)
}

func rawRemoveDir(path string) error {
	return unlinkAt(path, unix.AT_REMOVEDIR)
}

func unlinkAt(path string, flags int) error {
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	dfd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		if flags == unix.AT_REMOVEDIR {
			return os.Remove(path)
		}
		return os.Remove(path)
	}
	defer unix.Close(dfd)

	if err := unix.Unlinkat(dfd, name, flags); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil
		}
		return err
	}
	return nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, unix.ENOENT) || os.IsNotExist(err)
}

func IsInUse(err error) bool {
	return errors.Is(err, unix.EBUSY) || errors.Is(err, unix.ETXTBSY)
}

func IsDirNotEmpty(err error) bool {
	return errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, unix.EEXIST)
}

func normalize(path string) string {
	return filepath.Clean(path)
}
