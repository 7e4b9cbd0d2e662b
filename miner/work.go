// Package miner implements the CPU mining worker pool: a set of long-lived
// pinned worker threads hashing the current work item with multiway
// Cryptonight kernels, checking digests against the difficulty target and
// pushing solutions to the executor.
//
// Coordination between the single publisher (SwitchWork) and the workers is
// lock-free: work items are broadcast by value through a shared slot guarded
// by a monotonic job generation counter. Workers abandon the old job as soon
// as they observe a newer generation.
package miner

import (
	"encoding/binary"
	"sync/atomic"
)

const (
	// JobIDSize is the size of the opaque pool job identifier.
	JobIDSize = 8

	// MaxBlobSize is the largest hashing blob a pool may hand out.
	MaxBlobSize = 112

	// NonceOffset is where the 32-bit little-endian nonce lives inside
	// the work blob.
	NonceOffset = 39

	// ComparandOffset is where the 64-bit little-endian difficulty
	// comparand starts inside each 32-byte digest.
	ComparandOffset = 24
)

// WorkItem is the unit of work handed over by the pool. It is broadcast to
// workers by value; workers never share a pointer into it with the
// publisher.
type WorkItem struct {
	JobID       [JobIDSize]byte
	Blob        [MaxBlobSize]byte
	BlobLen     int
	Target      uint64
	ResumeNonce uint32
	NiceHash    bool
	PoolID      int
	Stall       bool
}

// StallWork returns the "no current work" item. Workers receiving it sleep
// until the next generation.
func StallWork() WorkItem {
	return WorkItem{Stall: true}
}

// Nonce reads the nonce slot of the blob.
func (w *WorkItem) Nonce() uint32 {
	return binary.LittleEndian.Uint32(w.Blob[NonceOffset:])
}

// SetNonce writes the nonce slot of the blob.
func (w *WorkItem) SetNonce(n uint32) {
	binary.LittleEndian.PutUint32(w.Blob[NonceOffset:], n)
}

// Solution is emitted whenever a digest's trailing 64-bit little-endian word
// is strictly below the job target.
type Solution struct {
	JobID  [JobIDSize]byte
	Nonce  uint32
	Digest [32]byte
	PoolID int
}

// Executor is the outbound event sink. PushEvent is called from worker hot
// loops and must not block for long.
type Executor interface {
	PushEvent(sol Solution)
}

// workSlot is the shared publication point between the publisher and the
// workers.
//
// Ordering protocol: the publisher stores current, zeroes consumed, then
// bumps jobNo; a worker loads jobNo, copies current, then bumps consumed.
// The publisher never rewrites current before consumed has reached the
// worker count, at which point every worker is parked on the jobNo check.
type workSlot struct {
	current  WorkItem
	jobNo    atomic.Uint64
	consumed atomic.Uint32
	threads  uint32
}

// publish makes w the current work item and signals a new generation. Only
// the pool calls this, and only when no worker is reading the slot.
func (s *workSlot) publish(w WorkItem) {
	s.current = w
	s.consumed.Store(0)
	s.jobNo.Add(1)
}
