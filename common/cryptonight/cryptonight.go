// Package cryptonight adapts the Cryptonight hash implementation to the
// multiway kernel contract the mining workers drive.
//
// A kernel of width N hashes N independent inputs per invocation. The inputs
// arrive interleaved in a single buffer (lane i occupies input[i*size :
// (i+1)*size]) and the digests land interleaved in the output buffer (lane i
// at output[i*DigestSize : (i+1)*DigestSize]). Interleaving lets a worker
// keep one contiguous blob copy and splice per-lane nonces in place.
//
// Thread safety: a kernel invocation owns its contexts exclusively. Create
// one context per lane per worker; never share a context between concurrent
// invocations.
package cryptonight

import (
	"fmt"

	"github.com/opensyria/cryptonight-miner/common/memory"
)

const (
	// DigestSize is the size of one Cryptonight digest.
	DigestSize = 32

	// MaxWays is the widest kernel this package provides.
	MaxWays = 6
)

// variant 0 is classic Cryptonight, the algorithm the self-test vectors
// belong to.
const variant = 0

// HashFn is a multiway kernel. It reads width lanes of size bytes each from
// input and writes width digests to output, one scratchpad context per lane.
type HashFn func(input []byte, size int, output []byte, ctxs []*memory.Context)

// widths lists the supported kernel widths. A triple-way kernel buys nothing
// on real cache hierarchies, hence the gap.
var widths = []int{1, 2, 4, 5, 6}

// Widths returns the supported kernel widths in ascending order.
func Widths() []int {
	out := make([]int, len(widths))
	copy(out, widths)
	return out
}

// ValidWidth reports whether a width-n kernel exists.
func ValidWidth(n int) bool {
	for _, w := range widths {
		if w == n {
			return true
		}
	}
	return false
}

// ForWidth returns the kernel of the given width.
func ForWidth(n int) (HashFn, error) {
	if !ValidWidth(n) {
		return nil, fmt.Errorf("cryptonight: no %d-way kernel", n)
	}
	return multiway(n), nil
}

func multiway(n int) HashFn {
	return func(input []byte, size int, output []byte, ctxs []*memory.Context) {
		for i := 0; i < n; i++ {
			sum := ctxs[i].Cache().Sum(input[i*size:(i+1)*size], variant)
			copy(output[i*DigestSize:(i+1)*DigestSize], sum)
		}
	}
}
