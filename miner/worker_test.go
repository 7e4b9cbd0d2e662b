package miner

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/opensyria/cryptonight-miner/common/cryptonight"
	"github.com/opensyria/cryptonight-miner/common/memory"
)

// Test doubles shared by the worker and pool tests. The fake kernel derives
// each digest from the lane's blob, so tests can recompute emitted digests;
// its comparand is the nonce itself, which makes the target a direct nonce
// threshold.

func fakeDigest(lane []byte, out []byte) {
	for i := range out {
		out[i] = lane[i%len(lane)] ^ byte(i)
	}
	nonce := binary.LittleEndian.Uint32(lane[NonceOffset:])
	binary.LittleEndian.PutUint64(out[ComparandOffset:], uint64(nonce))
}

// laneRecord is one kernel invocation's nonces, in lane order.
type laneRecord []uint32

// recorder collects the kernel invocations of a single worker.
type recorder struct {
	mu    sync.Mutex
	calls []laneRecord
}

func (r *recorder) record(nonces laneRecord) {
	r.mu.Lock()
	r.calls = append(r.calls, nonces)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []laneRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]laneRecord, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recorder) nonces() []uint32 {
	var all []uint32
	for _, call := range r.snapshot() {
		all = append(all, call...)
	}
	return all
}

// fakeKernels returns a kernel factory for pool.kernels. Each worker gets
// its own recorder, appended to recs in construction order. delay slows each
// invocation down so telemetry windows are actually covered.
func fakeKernels(recs *[]*recorder, delay time.Duration) func(int) (cryptonight.HashFn, error) {
	return func(n int) (cryptonight.HashFn, error) {
		rec := &recorder{}
		*recs = append(*recs, rec)
		return func(input []byte, size int, output []byte, ctxs []*memory.Context) {
			if delay > 0 {
				time.Sleep(delay)
			}
			nonces := make(laneRecord, n)
			for i := 0; i < n; i++ {
				lane := input[i*size : (i+1)*size]
				nonces[i] = binary.LittleEndian.Uint32(lane[NonceOffset:])
				fakeDigest(lane, output[i*cryptonight.DigestSize:(i+1)*cryptonight.DigestSize])
			}
			rec.record(nonces)
		}, nil
	}
}

// collectSink gathers emitted solutions.
type collectSink struct {
	mu   sync.Mutex
	sols []Solution
}

func (c *collectSink) PushEvent(sol Solution) {
	c.mu.Lock()
	c.sols = append(c.sols, sol)
	c.mu.Unlock()
}

func (c *collectSink) snapshot() []Solution {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Solution, len(c.sols))
	copy(out, c.sols)
	return out
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sols)
}

// testPool builds a pool wired to fake kernels and a collector sink.
func testPool(threads []ThreadConfig, recs *[]*recorder, delay time.Duration) (*Pool, *collectSink) {
	sink := &collectSink{}
	cfg := PoolConfig{
		Threads:      threads,
		MemoryMode:   memory.AlwaysSlow,
		InstanceID:   "test",
		SkipSelfTest: true,
	}
	p := NewPool(cfg, sink)
	p.kernels = fakeKernels(recs, delay)
	return p, sink
}

// testWork builds a non-stall work item with the given job tag and target.
func testWork(tag byte, target uint64) WorkItem {
	w := WorkItem{
		BlobLen: 76,
		Target:  target,
	}
	w.JobID[0] = tag
	for i := range w.Blob[:w.BlobLen] {
		w.Blob[i] = byte(i) ^ tag
	}
	return w
}

func TestMultiwayWidthFidelity(t *testing.T) {
	var recs []*recorder
	p, _ := testPool([]ThreadConfig{{Multiway: 6, Affinity: -1}}, &recs, 100*time.Microsecond)

	if err := p.Start(testWork('A', 0)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	p.Shutdown()

	nonces := recs[0].nonces()
	if len(nonces) == 0 {
		t.Fatal("Kernel never invoked")
	}
	for i := 1; i < len(nonces); i++ {
		if nonces[i] != nonces[i-1]+1 {
			t.Fatalf("Nonce gap at %d: %08x then %08x", i, nonces[i-1], nonces[i])
		}
	}

	if count := p.workers[0].hashCount.Load(); count%6 != 0 {
		t.Errorf("Hash count %d not divisible by kernel width", count)
	}
}

func TestConsecutiveLaneNonces(t *testing.T) {
	for _, width := range []int{2, 4, 5, 6} {
		var recs []*recorder
		p, _ := testPool([]ThreadConfig{{Multiway: width, Affinity: -1}}, &recs, 100*time.Microsecond)

		if err := p.Start(testWork('A', 0)); err != nil {
			t.Fatalf("Width %d: Start failed: %v", width, err)
		}
		time.Sleep(50 * time.Millisecond)
		p.Shutdown()

		calls := recs[0].snapshot()
		if len(calls) == 0 {
			t.Fatalf("Width %d: kernel never invoked", width)
		}
		for _, call := range calls {
			if len(call) != width {
				t.Fatalf("Width %d: invocation carried %d lanes", width, len(call))
			}
			for i := 1; i < width; i++ {
				if call[i] != call[i-1]+1 {
					t.Fatalf("Width %d: lanes not consecutive: %v", width, call)
				}
			}
		}
	}
}

func TestFirstNonceIsBasePlusOne(t *testing.T) {
	var recs []*recorder
	p, _ := testPool([]ThreadConfig{{Multiway: 1, Affinity: -1}}, &recs, 100*time.Microsecond)

	if err := p.Start(testWork('A', 0)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	p.Shutdown()

	nonces := recs[0].nonces()
	if len(nonces) == 0 {
		t.Fatal("Kernel never invoked")
	}
	// Single worker resumes at nonce 0; the increment is a pre-increment.
	if nonces[0] != 1 {
		t.Errorf("First tested nonce is %08x, want 1", nonces[0])
	}
}

func TestNiceHashMask(t *testing.T) {
	var recs []*recorder
	p, _ := testPool([]ThreadConfig{{Multiway: 1, Affinity: -1}}, &recs, 100*time.Microsecond)

	w := testWork('A', 0)
	w.NiceHash = true
	w.SetNonce(0xAB000000)

	if err := p.Start(w); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	p.Shutdown()

	nonces := recs[0].nonces()
	if len(nonces) == 0 {
		t.Fatal("Kernel never invoked")
	}
	for _, n := range nonces {
		if n&0xFF000000 != 0xAB000000 {
			t.Fatalf("Nonce %08x lost the NiceHash tag byte", n)
		}
	}
}

func TestSolutionCorrectness(t *testing.T) {
	var recs []*recorder
	p, sink := testPool([]ThreadConfig{{Multiway: 2, Affinity: -1}}, &recs, 200*time.Microsecond)

	work := testWork('A', 1000)
	if err := p.Start(work); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	p.Shutdown()

	sols := sink.snapshot()
	if len(sols) == 0 {
		t.Fatal("No solutions below a nonce-threshold target")
	}

	lane := make([]byte, work.BlobLen)
	want := make([]byte, cryptonight.DigestSize)
	for _, sol := range sols {
		if sol.JobID != work.JobID {
			t.Fatalf("Solution carries job %x, want %x", sol.JobID, work.JobID)
		}
		if uint64(sol.Nonce) >= work.Target {
			t.Fatalf("Solution nonce %d does not beat target %d", sol.Nonce, work.Target)
		}

		// Re-derive the digest from the blob with the emitted nonce
		// spliced in.
		copy(lane, work.Blob[:work.BlobLen])
		binary.LittleEndian.PutUint32(lane[NonceOffset:], sol.Nonce)
		fakeDigest(lane, want)

		if sol.Digest != [32]byte(want) {
			t.Fatalf("Digest mismatch for nonce %d", sol.Nonce)
		}
		if binary.LittleEndian.Uint64(sol.Digest[ComparandOffset:]) >= work.Target {
			t.Fatalf("Digest comparand does not beat target for nonce %d", sol.Nonce)
		}
	}
}
