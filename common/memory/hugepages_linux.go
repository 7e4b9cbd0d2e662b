//go:build linux

package memory

import (
	"bytes"
	"errors"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// hugePageSize is the size the kernel hands out for MAP_HUGETLB mappings on
// every platform this miner targets.
const hugePageSize = 2 << 20

// hugePagesReady checks that the kernel has a huge page reservation at all.
// It cannot tell whether enough pages are free for every worker; that shows
// up as an allocation failure later.
func hugePagesReady() error {
	raw, err := os.ReadFile("/proc/sys/vm/nr_hugepages")
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(raw)))
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("vm.nr_hugepages is 0")
	}
	return nil
}

// allocHuge maps an anonymous huge-page-backed region of at least size bytes.
func allocHuge(size int) ([]byte, error) {
	size = (size + hugePageSize - 1) &^ (hugePageSize - 1)
	region, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB|unix.MAP_POPULATE)
	if err != nil {
		return nil, err
	}
	return region, nil
}

func lockRegion(region []byte) error {
	return unix.Mlock(region)
}

func freeHuge(region []byte) {
	_ = unix.Munmap(region)
}
