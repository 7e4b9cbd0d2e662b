package miner

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/opensyria/cryptonight-miner/common/cpu"
	"github.com/opensyria/cryptonight-miner/common/cryptonight"
	"github.com/opensyria/cryptonight-miner/common/memory"
)

const (
	// stallPoll is how often a stalled worker re-checks the generation
	// counter. Pools do not emit jobs faster than a few hundred ms.
	stallPoll = 100 * time.Millisecond

	// Telemetry cadences, applied to the hash count before each round. The
	// single-way loop samples every 16 hashes; the multiway loop samples
	// whenever the count is a multiple of 4, i.e. every 4 hashes at width 2
	// or 4, every 12 at width 6 and every 20 at width 5.
	sampleMaskSingle   = 0xF
	sampleMaskMultiway = 0x3
)

// worker owns one OS thread, multiway scratchpad contexts, a private copy of
// the current work item and a private nonce counter.
type worker struct {
	threadNo int
	affinity int
	multiway int
	memMode  memory.Mode

	hashFn cryptonight.HashFn
	slot   *workSlot
	exec   Executor
	tel    *telemetry
	logger *slog.Logger

	localWork  WorkItem
	localJobNo uint64
	nonceStart uint32

	hashCount atomic.Uint64
	stampMS   atomic.Int64
	solutions atomic.Uint64

	quit atomic.Bool
	done chan struct{}
}

// run is the worker thread body. The startup outcome (context allocation) is
// reported once on started; afterwards the worker only stops via quit.
func (w *worker) run(started chan<- error) {
	defer close(w.done)

	// The hot loop monopolizes this thread anyway, and both the NUMA
	// binding and the CPU pin are per-thread state.
	runtime.LockOSThread()

	if w.affinity >= 0 {
		if err := cpu.BindMemoryToNUMA(w.affinity); err != nil {
			w.logger.Debug("NUMA memory binding unavailable", "cpu", w.affinity, "err", err)
		}
		if err := cpu.SetAffinity(w.affinity); err != nil {
			w.logger.Warn("Cannot pin thread to CPU, running unpinned", "cpu", w.affinity, "err", err)
		} else {
			w.logger.Info("Thread pinned", "cpu", w.affinity, "node", cpu.NodeOfCPU(w.affinity))
		}
	}

	ctxs := make([]*memory.Context, w.multiway)
	for i := range ctxs {
		ctx, err := memory.Alloc(w.memMode, w.logger)
		if err != nil {
			for _, c := range ctxs[:i] {
				c.Free()
			}
			started <- fmt.Errorf("worker %d: scratchpad %d/%d: %w", w.threadNo, i, w.multiway, err)
			return
		}
		ctxs[i] = ctx
	}
	defer func() {
		for _, c := range ctxs {
			c.Free()
		}
	}()
	started <- nil

	w.consumeWork()

	if w.multiway == 1 {
		w.runSingle(ctxs)
	} else {
		w.runMultiway(ctxs)
	}
}

// consumeWork copies the shared slot into the worker, stamps in this
// worker's resume nonce and acknowledges the generation.
func (w *worker) consumeWork() {
	w.localWork = w.slot.current
	w.localWork.ResumeNonce = w.nonceStart
	w.localJobNo++
	w.slot.consumed.Add(1)
}

// waitForJob parks the worker while the current item is a stall. Returns
// false when shutdown was requested while waiting.
func (w *worker) waitForJob() bool {
	for w.slot.jobNo.Load() == w.localJobNo {
		if w.quit.Load() {
			return false
		}
		time.Sleep(stallPoll)
	}
	return true
}

// baseNonce derives the starting nonce for a fresh job. In NiceHash mode the
// top byte delivered in the blob is the pool's lane tag and must survive;
// only the low 24 bits come from the resume nonce.
func (w *worker) baseNonce() uint32 {
	if w.localWork.NiceHash {
		return w.localWork.Nonce()&0xFF000000 | w.localWork.ResumeNonce&0x00FFFFFF
	}
	return w.localWork.ResumeNonce
}

func (w *worker) sample(mask uint64) uint64 {
	count := w.hashCount.Load()
	if count&mask == 0 {
		now := time.Now().UnixMilli()
		w.stampMS.Store(now)
		w.tel.push(w.threadNo, count, now)
	}
	return count
}

func (w *worker) emit(digest []byte, nonce uint32) {
	sol := Solution{
		JobID:  w.localWork.JobID,
		Nonce:  nonce,
		PoolID: w.localWork.PoolID,
	}
	copy(sol.Digest[:], digest)
	w.solutions.Add(1)
	w.exec.PushEvent(sol)
}

// runSingle is the width-1 hot loop. It hashes the local work blob in place:
// the blob is a fixed-size array inside localWork, so consumeWork itself
// refreshes the bytes and no separate lane buffer exists to re-derive.
func (w *worker) runSingle(ctxs []*memory.Context) {
	out := make([]byte, cryptonight.DigestSize)

	for !w.quit.Load() {
		if w.localWork.Stall {
			if !w.waitForJob() {
				return
			}
			w.consumeWork()
			continue
		}

		size := w.localWork.BlobLen
		target := w.localWork.Target
		nonce := w.baseNonce()

		for w.slot.jobNo.Load() == w.localJobNo {
			count := w.sample(sampleMaskSingle)
			w.hashCount.Store(count + 1)

			nonce++
			w.localWork.SetNonce(nonce)
			w.hashFn(w.localWork.Blob[:size], size, out, ctxs)

			if binary.LittleEndian.Uint64(out[ComparandOffset:]) < target {
				w.emit(out, nonce)
			}
			runtime.Gosched()
		}

		w.consumeWork()
	}
}

// runMultiway is the width-N hot loop. Lane blobs live in one interleaved
// buffer whose layout depends on the work size, so the buffer is re-derived
// after every consumeWork.
func (w *worker) runMultiway(ctxs []*memory.Context) {
	n := w.multiway
	blob := make([]byte, n*MaxBlobSize)
	out := make([]byte, n*cryptonight.DigestSize)

	refresh := func() {
		size := w.localWork.BlobLen
		for i := 0; i < n; i++ {
			copy(blob[i*size:(i+1)*size], w.localWork.Blob[:size])
		}
	}
	refresh()

	for !w.quit.Load() {
		if w.localWork.Stall {
			if !w.waitForJob() {
				return
			}
			w.consumeWork()
			refresh()
			continue
		}

		size := w.localWork.BlobLen
		target := w.localWork.Target
		nonce := w.baseNonce()

		for w.slot.jobNo.Load() == w.localJobNo {
			count := w.sample(sampleMaskMultiway)
			w.hashCount.Store(count + uint64(n))

			for i := 0; i < n; i++ {
				nonce++
				binary.LittleEndian.PutUint32(blob[i*size+NonceOffset:], nonce)
			}
			w.hashFn(blob[:n*size], size, out, ctxs)

			for i := 0; i < n; i++ {
				digest := out[i*cryptonight.DigestSize : (i+1)*cryptonight.DigestSize]
				if binary.LittleEndian.Uint64(digest[ComparandOffset:]) < target {
					w.emit(digest, nonce-uint32(n-1)+uint32(i))
				}
			}
			runtime.Gosched()
		}

		w.consumeWork()
		refresh()
	}
}
