package miner

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	ringBits = 6
	ringSize = 1 << ringBits
	ringMask = ringSize - 1
)

// telemetry keeps one fixed-size ring of (hash count, timestamp) samples per
// worker. A worker pushes into its own ring from the hot loop; readers
// compute hashrates over arbitrary recent windows without ever blocking the
// writer.
//
// Samples are relaxed atomics. A reader can observe a count/stamp pair from
// two different pushes; the only harm is a slightly wrong rate for one
// query, and a timestamp of zero always means "slot never written".
type telemetry struct {
	counts [][]atomic.Uint64
	stamps [][]atomic.Int64 // unix milliseconds, 0 = unwritten
	top    []atomic.Uint32
}

// newTelemetry allocates rings for every worker. All rows start zeroed so an
// unwritten slot is always recognizable.
func newTelemetry(threads int) *telemetry {
	t := &telemetry{
		counts: make([][]atomic.Uint64, threads),
		stamps: make([][]atomic.Int64, threads),
		top:    make([]atomic.Uint32, threads),
	}
	for i := 0; i < threads; i++ {
		t.counts[i] = make([]atomic.Uint64, ringSize)
		t.stamps[i] = make([]atomic.Int64, ringSize)
	}
	return t
}

// push records a sample for the given worker. Called only by that worker.
func (t *telemetry) push(thread int, hashCount uint64, stampMS int64) {
	top := t.top[thread].Load()
	idx := top & ringMask
	t.counts[thread][idx].Store(hashCount)
	t.stamps[thread][idx].Store(stampMS)
	t.top[thread].Store(top + 1)
}

// hashrate returns the hashes per second of one worker averaged over the
// most recent samples no older than window. NaN means the ring does not yet
// span the window.
func (t *telemetry) hashrate(thread int, window time.Duration) float64 {
	return t.hashrateAt(thread, window, time.Now().UnixMilli())
}

func (t *telemetry) hashrateAt(thread int, window time.Duration, nowMS int64) float64 {
	windowMS := window.Milliseconds()
	top := t.top[thread].Load()

	var (
		latestStamp, earliestStamp int64
		latestCount, earliestCount uint64
		fullSet                    bool
	)

	// Walk backward from the newest sample; the first one older than the
	// window closes it. Only then do we know the window is fully covered.
	for i := uint32(1); i < ringSize; i++ {
		idx := (top - i) & ringMask
		stamp := t.stamps[thread][idx].Load()
		if stamp == 0 {
			break
		}
		if latestStamp == 0 {
			latestStamp = stamp
			latestCount = t.counts[thread][idx].Load()
		}
		earliestStamp = stamp
		earliestCount = t.counts[thread][idx].Load()
		if nowMS-stamp > windowMS {
			fullSet = true
			break
		}
	}

	if !fullSet || earliestStamp == 0 || latestStamp == 0 {
		return math.NaN()
	}
	if latestStamp == earliestStamp {
		return math.NaN()
	}

	hashes := float64(latestCount - earliestCount)
	seconds := float64(latestStamp-earliestStamp) / 1000.0
	return hashes / seconds
}
