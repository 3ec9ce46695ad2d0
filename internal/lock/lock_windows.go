//go:build windows

package lock

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/fastrm/fastrm/internal/logger"
)

const (
	rmMaxAppName = 255
	rmMaxSvcName = 63
	rmRebootReasonNone = 0
)

type rmUniqueProcess struct {
	ProcessId        uint32
	ProcessStartTime windows.Filetime
}

type rmProcessInfo struct {
	Process             rmUniqueProcess
	StrAppName          [rmMaxAppName + 1]uint16
	StrServiceShortName [rmMaxSvcName + 1]uint16
	ApplicationType     uint32
	AppStatus           uint32
	TSSessionId         uint32
	BRestartable        int32
}

var (
	modRstrtmgr             = windows.NewLazySystemDLL("rstrtmgr.dll")
	procRmStartSession      = modRstrtmgr.NewProc("RmStartSession")
	procRmRegisterResources = modRstrtmgr.NewProc("RmRegisterResources")
	procRmGetList           = modRstrtmgr.NewProc("RmGetList")
	procRmEndSession        = modRstrtmgr.NewProc("RmEndSession")
)

// FindLocking opens a Restart-Manager session, registers the given paths as
// resources, and returns the processes reported to have one of them open.
// PIDs 0 and 4 (the kernel) are never reported.
func FindLocking(paths ...string) ([]Process, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	var session uint32
	var sessionKey [44]uint16
	if ret, _, _ := procRmStartSession.Call(
		uintptr(unsafe.Pointer(&session)),
		0,
		uintptr(unsafe.Pointer(&sessionKey[0])),
	); ret != 0 {
		return nil, fmt.Errorf("lock: RmStartSession failed: %#x", ret)
	}
	defer procRmEndSession.Call(uintptr(session))

	filePtrs := make([]*uint16, len(paths))
	for i, p := range paths {
		ptr, err := windows.UTF16PtrFromString(p)
		if err != nil {
			return nil, err
		}
		filePtrs[i] = ptr
	}

	if ret, _, _ := procRmRegisterResources.Call(
		uintptr(session),
		uintptr(len(filePtrs)),
		uintptr(unsafe.Pointer(&filePtrs[0])),
		0, 0, 0, 0,
	); ret != 0 {
		return nil, fmt.Errorf("lock: RmRegisterResources failed: %#x", ret)
	}

	const errorMoreData = 234
	var needed, count, reasons uint32
	ret, _, _ := procRmGetList.Call(
		uintptr(session),
		uintptr(unsafe.Pointer(&needed)),
		uintptr(unsafe.Pointer(&count)),
		0,
		uintptr(unsafe.Pointer(&reasons)),
	)
	if ret != 0 && ret != errorMoreData {
		return nil, fmt.Errorf("lock: RmGetList (size probe) failed: %#x", ret)
	}
	if needed == 0 {
		return nil, nil
	}

	infos := make([]rmProcessInfo, needed)
	count = needed
	if ret, _, _ := procRmGetList.Call(
		uintptr(session),
		uintptr(unsafe.Pointer(&needed)),
		uintptr(unsafe.Pointer(&count)),
		uintptr(unsafe.Pointer(&infos[0])),
		uintptr(unsafe.Pointer(&reasons)),
	); ret != 0 {
		return nil, fmt.Errorf("lock: RmGetList (fetch) failed: %#x", ret)
	}

	result := make([]Process, 0, count)
	for i := uint32(0); i < count; i++ {
		pid := infos[i].Process.ProcessId
		if pid == 0 || pid == 4 {
			continue
		}
		result = append(result, Process{
			PID:     pid,
			Name:    windows.UTF16ToString(infos[i].StrAppName[:]),
			ExePath: queryExePath(pid),
		})
	}
	return result, nil
}

func queryExePath(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:size])
}

// KillProcess terminates pid with exit code 1. PIDs 0 and 4 are refused as
// system-critical. After a successful termination it sleeps 50ms to let
// Windows release the terminated process's handles.
func KillProcess(pid uint32) error {
	if pid == 0 || pid == 4 {
		return errors.New("lock: refusing to terminate system-critical pid")
	}
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE|windows.PROCESS_QUERY_INFORMATION, false, pid)
	if err != nil {
		return fmt.Errorf("lock: open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)

	if err := windows.TerminateProcess(h, 1); err != nil {
		return fmt.Errorf("lock: terminate process %d: %w", pid, err)
	}
	time.Sleep(50 * time.Millisecond)
	return nil
}

// KillLocking finds and kills every process holding any of paths open.
func KillLocking(paths ...string) error {
	procs, err := FindLocking(paths...)
	if err != nil {
		return err
	}
	var firstErr error
	for _, p := range procs {
		if err := KillProcess(p.PID); err != nil {
			logger.Warning("lock: failed to kill pid %d (%s): %v", p.PID, p.Name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// KillLockingBatch is KillLocking taking a slice, for callers already
// holding one.
func KillLockingBatch(paths []string) error {
	return KillLocking(paths...)
}

// --- handle-table enumeration and cross-process force-close ---

// systemHandleTableEntryInfo mirrors the undocumented
// SYSTEM_HANDLE_TABLE_ENTRY_INFO structure returned by
// NtQuerySystemInformation(SystemHandleInformation).
type systemHandleTableEntryInfo struct {
	UniqueProcessID       uint16
	CreatorBackTraceIndex uint16
	ObjectTypeIndex       uint8
	HandleAttributes      uint8
	HandleValue           uint16
	Object                uintptr
	GrantedAccess         uint32
	_                     uint32 // alignment padding on 64-bit
}

const (
	systemHandleInformation  = 16 // undocumented SYSTEM_INFORMATION_CLASS value
	statusInfoLengthMismatch = 0xC0000004
	initialHandleBufferSize  = 4 * 1024 * 1024
	maxBufferGrowAttempts    = 10
)

var (
	modNtdll                     = windows.NewLazySystemDLL("ntdll.dll")
	procNtQuerySystemInformation = modNtdll.NewProc("NtQuerySystemInformation")
)

// detectFileObjectTypeIndex opens the null device and scans the handle
// table for our own process's handle to it, returning the object-type
// index Windows currently uses for File objects. This index is not stable
// across Windows versions, hence the runtime probe.
func detectFileObjectTypeIndex() (uint8, error) {
	nul, err := windows.UTF16PtrFromString("NUL")
	if err != nil {
		return 0, err
	}
	h, err := windows.CreateFile(nul, windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE, nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("lock: open NUL: %w", err)
	}
	defer windows.CloseHandle(h)

	selfPID := uint16(windows.GetCurrentProcessId())
	entries, err := querySystemHandles()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.UniqueProcessID == selfPID && uintptr(e.HandleValue) == uintptr(h) {
			return e.ObjectTypeIndex, nil
		}
	}
	return 0, errors.New("lock: could not determine File object-type index")
}

func querySystemHandles() ([]systemHandleTableEntryInfo, error) {
	size := initialHandleBufferSize
	entrySize := int(unsafe.Sizeof(systemHandleTableEntryInfo{}))

	for attempt := 0; attempt < maxBufferGrowAttempts; attempt++ {
		buf := make([]byte, size)
		var returnLength uint32
		ret, _, _ := procNtQuerySystemInformation.Call(
			uintptr(systemHandleInformation),
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(len(buf)),
			uintptr(unsafe.Pointer(&returnLength)),
		)
		if uint32(ret) == statusInfoLengthMismatch {
			next := int(float64(returnLength) * 1.5)
			if next <= size {
				next = size * 2
			}
			size = next
			continue
		}
		if ret != 0 {
			return nil, fmt.Errorf("lock: NtQuerySystemInformation failed: %#x", ret)
		}

		numHandles := *(*uint32)(unsafe.Pointer(&buf[0]))
		// The entry array follows the count at pointer alignment.
		base := uintptr(unsafe.Pointer(&buf[0])) + unsafe.Alignof(systemHandleTableEntryInfo{})
		entries := make([]systemHandleTableEntryInfo, 0, numHandles)
		for i := uint32(0); i < numHandles; i++ {
			offset := base + uintptr(i)*uintptr(entrySize)
			if offset+uintptr(entrySize) > uintptr(unsafe.Pointer(&buf[0]))+uintptr(len(buf)) {
				break
			}
			entries = append(entries, *(*systemHandleTableEntryInfo)(unsafe.Pointer(offset)))
		}
		return entries, nil
	}
	return nil, errors.New("lock: handle table buffer too small after retries")
}

// ForceCloseFileHandles enumerates every open kernel handle in the system,
// resolves the final path of every File-type handle owned by another
// process, and duplicate-closes the ones matching paths. It returns the
// number of handles closed. This is gated entirely behind the caller's
// explicit opt-in (worker.Config.KillProcesses); it is never invoked on the
// default path.
func ForceCloseFileHandles(paths ...string) (int, error) {
	matchSet := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		matchSet[strings.ToLower(normalizeForMatch(p))] = struct{}{}
	}

	fileTypeIndex, err := detectFileObjectTypeIndex()
	if err != nil {
		return 0, err
	}

	entries, err := querySystemHandles()
	if err != nil {
		return 0, err
	}

	selfPID := uint16(windows.GetCurrentProcessId())
	processCache := make(map[uint16]windows.Handle)
	defer func() {
		for _, h := range processCache {
			if h != 0 {
				windows.CloseHandle(h)
			}
		}
	}()

	closed := 0
	for _, e := range entries {
		if e.UniqueProcessID == selfPID || e.UniqueProcessID == 0 || e.UniqueProcessID == 4 {
			continue
		}
		if e.ObjectTypeIndex != fileTypeIndex || e.GrantedAccess == 0 {
			continue
		}

		srcProcess, cached := processCache[e.UniqueProcessID]
		if !cached {
			h, err := windows.OpenProcess(windows.PROCESS_DUP_HANDLE|windows.PROCESS_QUERY_INFORMATION, false, uint32(e.UniqueProcessID))
			if err != nil {
				processCache[e.UniqueProcessID] = 0
				continue
			}
			processCache[e.UniqueProcessID] = h
			srcProcess = h
		}
		if srcProcess == 0 {
			continue
		}

		resolved, ok := resolveHandlePathWithWatchdog(srcProcess, windows.Handle(e.HandleValue))
		if !ok {
			continue
		}
		if _, match := matchSet[strings.ToLower(normalizeForMatch(resolved))]; !match {
			continue
		}

		selfProcess := windows.CurrentProcess()
		var dummy windows.Handle
		err := windows.DuplicateHandle(
			srcProcess, windows.Handle(e.HandleValue),
			selfProcess, &dummy,
			0, false,
			windows.DUPLICATE_CLOSE_SOURCE,
		)
		if err == nil {
			closed++
		} else {
			logger.Warning("lock: failed to close remote handle in pid %d: %v", e.UniqueProcessID, err)
		}
	}
	return closed, nil
}

// resolveHandlePathWithWatchdog duplicates remoteHandle for inspection and
// resolves its final path, abandoning the attempt if it has not completed
// within 200ms — some handle types can block GetFinalPathNameByHandle
// indefinitely.
func resolveHandlePathWithWatchdog(srcProcess, remoteHandle windows.Handle) (string, bool) {
	type result struct {
		path string
		ok   bool
	}
	resultCh := make(chan result, 1)

	go func() {
		selfProcess := windows.CurrentProcess()
		var dup windows.Handle
		if err := windows.DuplicateHandle(srcProcess, remoteHandle, selfProcess, &dup, 0, false, windows.DUPLICATE_SAME_ACCESS); err != nil {
			resultCh <- result{"", false}
			return
		}
		defer windows.CloseHandle(dup)

		buf := make([]uint16, windows.MAX_PATH)
		n, err := windows.GetFinalPathNameByHandle(dup, &buf[0], uint32(len(buf)), 0)
		if err != nil || n == 0 {
			resultCh <- result{"", false}
			return
		}
		resultCh <- result{windows.UTF16ToString(buf[:n]), true}
	}()

	select {
	case r := <-resultCh:
		return r.path, r.ok
	case <-time.After(200 * time.Millisecond):
		return "", false
	}
}

func normalizeForMatch(p string) string {
	p = strings.ReplaceAll(p, "/", `\`)
	return strings.TrimPrefix(p, `\\?\`)
}
