//go:build linux

package cpu

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Memory policy modes from <linux/mempolicy.h>. x/sys/unix wraps the
// syscall number but not the mode constants.
const mpolPreferred = 1

// NodeOfCPU returns the NUMA node owning the given CPU, or 0 when the
// topology cannot be read (single-node machines have no node directories
// under some kernels).
func NodeOfCPU(cpuID int) int {
	entries, err := os.ReadDir(fmt.Sprintf("/sys/devices/system/cpu/cpu%d", cpuID))
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if name, ok := strings.CutPrefix(e.Name(), "node"); ok {
			if node, err := strconv.Atoi(name); err == nil {
				return node
			}
		}
	}
	return 0
}

// BindMemoryToNUMA sets the calling thread's default allocation policy to
// prefer the node owning cpuID. Must run on the locked worker thread before
// any scratchpad allocation.
func BindMemoryToNUMA(cpuID int) error {
	if !multiNode() {
		return nil
	}
	node := NodeOfCPU(cpuID)

	// One mask word is enough for any node id this miner will meet.
	mask := []uintptr{uintptr(1) << uint(node)}
	_, _, errno := unix.Syscall(unix.SYS_SET_MEMPOLICY,
		uintptr(mpolPreferred),
		uintptr(unsafe.Pointer(&mask[0])),
		uintptr(len(mask)*64+1))
	if errno != 0 {
		return fmt.Errorf("cpu: set_mempolicy(node %d): %w", node, errno)
	}
	return nil
}

func multiNode() bool {
	entries, err := os.ReadDir("/sys/devices/system/node")
	if err != nil {
		return false
	}
	nodes := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "node") {
			nodes++
		}
	}
	return nodes > 1
}
