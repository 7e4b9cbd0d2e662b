// Package cpu pins worker threads to CPUs and steers their page allocations
// to the matching NUMA node.
//
// Call order matters: lock the goroutine to its OS thread, bind the memory
// policy, pin the thread, then allocate scratchpads. Binding after the
// allocation leaves the scratchpad on whatever node the scheduler happened
// to start the thread on.
package cpu

import "errors"

// Errors reported by the binders.
var (
	// ErrUnsupported means the platform has no thread pinning facility.
	ErrUnsupported = errors.New("cpu: thread affinity not supported on this platform")

	// ErrAdvisory means the platform treats affinity as a scheduler hint
	// only. Callers should log once and carry on.
	ErrAdvisory = errors.New("cpu: thread affinity is advisory on this platform")
)
