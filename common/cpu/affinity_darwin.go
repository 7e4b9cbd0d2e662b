//go:build darwin

package cpu

// macOS exposes no hard thread-to-core binding; affinity tags are scheduler
// hints at best. Report that so the worker can log its one-time warning and
// run unpinned.
func SetAffinity(cpuID int) error {
	return ErrAdvisory
}
