// Package memory allocates the scratchpad contexts used by the Cryptonight
// hashing kernels.
//
// Each context backs one hashing lane: a 2 MiB memory-hard scratchpad plus
// the small keccak state region. For serious hashrates the scratchpad should
// live on huge pages, pinned with mlock, and (on multi-socket machines) on
// the NUMA node the worker thread runs on. How hard the allocator tries is
// controlled by Mode.
//
// Thread safety:
//   - Alloc and Free may be called from any goroutine.
//   - A Context is NOT thread-safe; one hashing lane owns it exclusively.
//   - Allocate on the worker thread after it has been pinned, so the pages
//     land on the right NUMA node.
package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	cn "ekyu.moe/cryptonight"
)

// Mode selects the scratchpad allocation policy. The names follow the
// classic miner config option "slow memory": slow memory is ordinary
// 4 KiB-paged memory, as opposed to huge-page-backed memory.
type Mode int

const (
	// NeverSlow requires huge pages and mlock. Allocation fails hard if
	// either is unavailable.
	NeverSlow Mode = iota

	// NoMlock requires huge pages but does not attempt to mlock them.
	NoMlock

	// WarnSlow tries huge pages and mlock, logs a warning on failure and
	// falls back to ordinary pages.
	WarnSlow

	// AlwaysSlow uses ordinary pages only. No mlock.
	AlwaysSlow
)

// ParseMode maps the config file spelling of the slow-memory option to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "never_use":
		return NeverSlow, nil
	case "no_mlock":
		return NoMlock, nil
	case "print_warning", "warn":
		return WarnSlow, nil
	case "always_use":
		return AlwaysSlow, nil
	}
	return 0, fmt.Errorf("memory: unknown slow_memory setting %q", s)
}

func (m Mode) String() string {
	switch m {
	case NeverSlow:
		return "never_use"
	case NoMlock:
		return "no_mlock"
	case WarnSlow:
		return "print_warning"
	case AlwaysSlow:
		return "always_use"
	}
	return "unknown"
}

// Errors returned by the allocator.
var (
	ErrNoHugePages = errors.New("memory: huge page allocation failed")
	ErrMlock       = errors.New("memory: mlock failed")
)

// ctxBytes is the footprint of one scratchpad context.
var ctxBytes = int(unsafe.Sizeof(cn.Cache{}))

// Context is one scratchpad pair, owned by a single hashing lane.
type Context struct {
	cache  *cn.Cache
	region []byte // non-nil when the cache is mmap-backed
	huge   bool
}

// Cache returns the kernel scratchpad. The zero-initialized cache is ready
// for hashing.
func (c *Context) Cache() *cn.Cache {
	return c.cache
}

// HugePages reports whether the context is backed by huge pages.
func (c *Context) HugePages() bool {
	return c.huge
}

// Free releases the context. The context must not be used afterwards.
func (c *Context) Free() {
	if c.region != nil {
		freeHuge(c.region)
		c.region = nil
	}
	c.cache = nil
}

// Init performs the one-time platform readiness check for the given mode.
// In the strict modes a machine without huge page reservations is a fatal
// configuration error; in WarnSlow it is only logged.
func Init(mode Mode, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if mode == AlwaysSlow {
		return nil
	}

	if err := hugePagesReady(); err != nil {
		if mode == WarnSlow {
			logger.Warn("Huge pages unavailable, hashrate will suffer",
				"err", err,
				"hint", "sysctl -w vm.nr_hugepages=<threads*4>",
			)
			return nil
		}
		return fmt.Errorf("memory: huge pages required by mode %s: %w", mode, err)
	}
	return nil
}

// Alloc obtains one scratchpad context under the given mode. A nil context
// with an error means the worker cannot start.
func Alloc(mode Mode, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if mode == AlwaysSlow {
		return &Context{cache: new(cn.Cache)}, nil
	}

	region, err := allocHuge(ctxBytes)
	if err != nil {
		if mode == WarnSlow {
			logger.Warn("Huge page scratchpad allocation failed, falling back to regular pages", "err", err)
			return &Context{cache: new(cn.Cache)}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNoHugePages, err)
	}

	if mode != NoMlock {
		if err := lockRegion(region); err != nil {
			if mode == WarnSlow {
				logger.Warn("mlock of scratchpad failed, falling back to regular pages", "err", err)
				freeHuge(region)
				return &Context{cache: new(cn.Cache)}, nil
			}
			freeHuge(region)
			return nil, fmt.Errorf("%w: %v", ErrMlock, err)
		}
	}

	// The mapping is zero-filled, which is exactly the ready state of a
	// kernel cache.
	return &Context{
		cache:  (*cn.Cache)(unsafe.Pointer(&region[0])),
		region: region,
		huge:   true,
	}, nil
}
