//go:build windows

package fsprim

import (
	"errors"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// File information classes used with SetFileInformationByHandle.
// FileDispositionInfoEx (21) is the POSIX-semantics disposition; on
// versions of Windows predating it, ERROR_INVALID_PARAMETER signals that we
// must fall back to the legacy FileDispositionInfo (4) class.
const (
	fileDispositionInfo   = 4
	fileDispositionInfoEx = 21

	dispositionFlagDelete                 = 0x00000001
	dispositionFlagPosixSemantics         = 0x00000002
	dispositionFlagForceImageSectionCheck = 0x00000004
	dispositionFlagIgnoreReadonlyAttr     = 0x00000010
)

type fileDispositionInfoExBuf struct {
	Flags uint32
}

type fileDispositionInfoBuf struct {
	DeleteFile uint8
}

func openForDelete(path string, isDir bool) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	attrs := uint32(windows.FILE_FLAG_OPEN_REPARSE_POINT)
	if isDir {
		attrs |= windows.FILE_FLAG_BACKUP_SEMANTICS
	}
	return windows.CreateFile(
		p,
		windows.DELETE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		attrs,
		0,
	)
}

func posixDelete(h windows.Handle) error {
	info := fileDispositionInfoExBuf{
		Flags: dispositionFlagDelete | dispositionFlagPosixSemantics |
			dispositionFlagForceImageSectionCheck | dispositionFlagIgnoreReadonlyAttr,
	}
	err := windows.SetFileInformationByHandle(h, fileDispositionInfoEx, (*byte)(unsafe.Pointer(&info)), uint32(unsafe.Sizeof(info)))
	if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
		legacy := fileDispositionInfoBuf{DeleteFile: 1}
		return windows.SetFileInformationByHandle(h, fileDispositionInfo, (*byte)(unsafe.Pointer(&legacy)), uint32(unsafe.Sizeof(legacy)))
	}
	return err
}

func rawDeleteFile(path string) error {
	h, err := openForDelete(path, false)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return posixDelete(h)
}

func rawRemoveDir(path string) error {
	h, err := openForDelete(path, true)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return posixDelete(h)
}

func rawExists(path string) bool {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false
	}
	attrs, err := windows.GetFileAttributes(p)
	return err == nil && attrs != windows.INVALID_FILE_ATTRIBUTES
}

func rawIsDir(path string) bool {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false
	}
	attrs, err := windows.GetFileAttributes(p)
	return err == nil && attrs&windows.FILE_ATTRIBUTE_DIRECTORY != 0
}

// rawEnumerate uses FindFirstFileEx with the fast (no short-name) search
// info level, as spec'd.
func rawEnumerate(dir string, visit func(Entry) error) error {
	pattern := dir
	if !strings.HasSuffix(pattern, `\`) {
		pattern += `\`
	}
	pattern += "*"

	p, err := windows.UTF16PtrFromString(pattern)
	if err != nil {
		return err
	}

	var data windows.Win32finddata
	h, err := windows.FindFirstFileEx(p, windows.FindExInfoBasic, &data, windows.FindExSearchNameMatch, nil, 0)
	if err != nil {
		if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) || errors.Is(err, windows.ERROR_PATH_NOT_FOUND) {
			return nil
		}
		return err
	}
	defer windows.FindClose(h)

	for {
		name := windows.UTF16ToString(data.FileName[:])
		if name != "." && name != ".." {
			full := strings.TrimSuffix(dir, `\`) + `\` + name
			isDir := data.FileAttributes&windows.FILE_ATTRIBUTE_DIRECTORY != 0
			isSymlink := data.FileAttributes&windows.FILE_ATTRIBUTE_REPARSE_POINT != 0
			size := int64(data.FileSizeHigh)<<32 | int64(data.FileSizeLow)
			if err := visit(Entry{Path: full, IsDir: isDir, IsSymlink: isSymlink, Size: size}); err != nil {
				return err
			}
		}
		if err := windows.FindNextFile(h, &data); err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
				return nil
			}
			return err
		}
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, windows.ERROR_FILE_NOT_FOUND) ||
		errors.Is(err, windows.ERROR_PATH_NOT_FOUND) ||
		errors.Is(err, windows.ERROR_INVALID_NAME)
}

func IsInUse(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
		errors.Is(err, windows.ERROR_LOCK_VIOLATION) ||
		errors.Is(err, windows.ERROR_ACCESS_DENIED)
}

func IsDirNotEmpty(err error) bool {
	return errors.Is(err, windows.ERROR_DIR_NOT_EMPTY)
}

func normalize(path string) string {
	if path == "" {
		return path
	}
	path = strings.ReplaceAll(path, "/", `\`)
	if strings.HasPrefix(path, `\\?\`) {
		return path
	}
	if len(path) >= 2 && path[1] == ':' {
		return `\\?\` + path
	}
	if strings.HasPrefix(path, `\\`) {
		return `\\?\UNC\` + strings.TrimPrefix(path, `\\`)
	}
	return path
}
