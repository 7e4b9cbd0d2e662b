//go:build !linux

package memory

import "errors"

// Huge page control is Linux-only. The strict modes fail here; WarnSlow
// falls back to the Go heap.

var errUnsupported = errors.New("huge pages not supported on this platform")

func hugePagesReady() error {
	return errUnsupported
}

func allocHuge(size int) ([]byte, error) {
	return nil, errUnsupported
}

func lockRegion(region []byte) error {
	return errUnsupported
}

func freeHuge(region []byte) {}
