package miner

import (
	"bytes"
	"log/slog"

	"github.com/opensyria/cryptonight-miner/common/cryptonight"
	"github.com/opensyria/cryptonight-miner/common/memory"
)

// Known-answer vectors. The single-kernel digest is the classic Cryptonight
// test vector; every wider kernel must reproduce it once per lane. The
// double kernel additionally gets a distinct two-lane vector whose published
// leading bytes are checked literally and whose full 64 bytes are
// cross-checked against the already-verified single kernel.
const (
	selfTestInput = "This is a test"

	selfTestDoubleInput = "The quick brown fox jumps over the lazy dog" +
		"The quick brown fox jumps over the lazy log"
	selfTestDoubleLane = 43
)

var selfTestDigest = [32]byte{
	0xa0, 0x84, 0xf0, 0x1d, 0x14, 0x37, 0xa0, 0x9c,
	0x69, 0x85, 0x40, 0x1b, 0x60, 0xd4, 0x35, 0x54,
	0xae, 0x10, 0x58, 0x02, 0xc5, 0xf5, 0xd8, 0xa9,
	0xb3, 0x25, 0x36, 0x49, 0xc0, 0xbe, 0x66, 0x05,
}

var selfTestDoublePrefix = []byte{0x3e, 0xbb, 0x7f, 0x9f, 0x7d, 0x27, 0x3d, 0x7c}

// SelfTest hashes fixed vectors through every kernel width and compares the
// digests bit for bit. Mining must not start when it returns false: a wrong
// digest at full speed means every submitted share is garbage.
func SelfTest(mode memory.Mode, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "selftest")

	ctxs := make([]*memory.Context, cryptonight.MaxWays)
	for i := range ctxs {
		ctx, err := memory.Alloc(mode, logger)
		if err != nil {
			logger.Error("Self-test scratchpad allocation failed", "err", err)
			for _, c := range ctxs[:i] {
				c.Free()
			}
			return false
		}
		ctxs[i] = ctx
	}
	defer func() {
		for _, c := range ctxs {
			c.Free()
		}
	}()

	out := make([]byte, cryptonight.MaxWays*cryptonight.DigestSize)
	laneLen := len(selfTestInput)

	for _, n := range cryptonight.Widths() {
		fn, err := cryptonight.ForWidth(n)
		if err != nil {
			logger.Error("Self-test kernel lookup failed", "width", n, "err", err)
			return false
		}

		input := bytes.Repeat([]byte(selfTestInput), n)
		fn(input, laneLen, out, ctxs[:n])

		for i := 0; i < n; i++ {
			lane := out[i*cryptonight.DigestSize : (i+1)*cryptonight.DigestSize]
			if !bytes.Equal(lane, selfTestDigest[:]) {
				logger.Error("Cryptonight self-test mismatch, check for bad compiler optimizations",
					"width", n,
					"lane", i,
				)
				return false
			}
		}
	}

	return selfTestDouble(ctxs, logger)
}

// selfTestDouble runs the double kernel's own vector: two distinct 43-byte
// lanes.
func selfTestDouble(ctxs []*memory.Context, logger *slog.Logger) bool {
	single, _ := cryptonight.ForWidth(1)
	double, _ := cryptonight.ForWidth(2)

	input := []byte(selfTestDoubleInput)
	out := make([]byte, 2*cryptonight.DigestSize)
	want := make([]byte, 2*cryptonight.DigestSize)

	single(input[:selfTestDoubleLane], selfTestDoubleLane, want[:cryptonight.DigestSize], ctxs[:1])
	single(input[selfTestDoubleLane:], selfTestDoubleLane, want[cryptonight.DigestSize:], ctxs[:1])

	double(input, selfTestDoubleLane, out, ctxs[:2])

	if !bytes.HasPrefix(out, selfTestDoublePrefix) || !bytes.Equal(out, want) {
		logger.Error("Cryptonight double self-test mismatch, check for bad compiler optimizations")
		return false
	}
	return true
}
