//go:build linux

package cpu

import "golang.org/x/sys/unix"

// SetAffinity pins the calling thread to exactly one CPU. The caller must
// have locked the goroutine to its OS thread first.
func SetAffinity(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	return unix.SchedSetaffinity(0, &set)
}
