//go:build windows

package cpu

import (
	"golang.org/x/sys/windows"
)

var (
	kernel32              = windows.NewLazySystemDLL("kernel32.dll")
	setThreadAffinityMask = kernel32.NewProc("SetThreadAffinityMask")
)

// SetAffinity pins the calling thread to exactly one CPU. The caller must
// have locked the goroutine to its OS thread first.
func SetAffinity(cpuID int) error {
	mask := uintptr(1) << uint(cpuID)
	ret, _, err := setThreadAffinityMask.Call(uintptr(windows.CurrentThread()), mask)
	if ret == 0 {
		return err
	}
	return nil
}
