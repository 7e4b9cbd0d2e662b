package miner

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/opensyria/cryptonight-miner/common/cryptonight"
	"github.com/opensyria/cryptonight-miner/common/memory"
	"github.com/opensyria/cryptonight-miner/miner/metrics"
)

// switchPoll is the sleep between consume-count polls in SwitchWork. Coarse
// on purpose: pools cannot emit jobs faster than ~250 ms, so a condition
// variable would buy nothing.
const switchPoll = 100 * time.Millisecond

// Errors reported at pool startup.
var (
	ErrSelfTest  = errors.New("miner: kernel self-test failed")
	ErrNoThreads = errors.New("miner: at least one worker thread required")
)

// ThreadConfig describes one worker: its kernel width and the CPU it is
// pinned to (negative = unpinned).
type ThreadConfig struct {
	Multiway int
	Affinity int
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Threads    []ThreadConfig
	MemoryMode memory.Mode

	// InstanceID tags logs and snapshots; auto-derived by the caller.
	InstanceID string

	// SkipSelfTest disables the startup known-answer check. Leave off
	// unless the kernels were already verified in this process.
	SkipSelfTest bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultPoolConfig returns one unpinned single-way worker per CPU.
func DefaultPoolConfig() PoolConfig {
	threads := make([]ThreadConfig, runtime.NumCPU())
	for i := range threads {
		threads[i] = ThreadConfig{Multiway: 1, Affinity: -1}
	}
	return PoolConfig{
		Threads:    threads,
		MemoryMode: memory.WarnSlow,
		Logger:     slog.Default(),
	}
}

// Pool constructs the workers, broadcasts work items to them and aggregates
// their telemetry.
type Pool struct {
	cfg    PoolConfig
	logger *slog.Logger
	exec   Executor

	slot    workSlot
	workers []*worker
	tel     *telemetry

	// kernels resolves a width to its hash function; swapped in tests.
	kernels func(int) (cryptonight.HashFn, error)

	started bool
	stopped bool
}

// NewPool creates a pool bound to the given executor. Call Start to begin
// mining.
func NewPool(cfg PoolConfig, exec Executor) *Pool {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "pool", "instance", cfg.InstanceID),
		exec:    exec,
		kernels: cryptonight.ForWidth,
	}
}

// Start verifies the kernels, publishes the initial work item and spins up
// every configured worker. It returns once each worker has either allocated
// its scratchpads or failed; any failure aborts startup.
func (p *Pool) Start(initial WorkItem) error {
	if p.started {
		return errors.New("miner: pool already started")
	}
	if len(p.cfg.Threads) == 0 {
		return ErrNoThreads
	}
	for i, t := range p.cfg.Threads {
		if !cryptonight.ValidWidth(t.Multiway) {
			return fmt.Errorf("miner: thread %d: invalid multiway %d", i, t.Multiway)
		}
	}

	if err := memory.Init(p.cfg.MemoryMode, p.logger); err != nil {
		return err
	}

	if !p.cfg.SkipSelfTest {
		ok := SelfTest(p.cfg.MemoryMode, p.logger)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.SetSelfTest(ok)
		}
		if !ok {
			return ErrSelfTest
		}
	}

	threads := len(p.cfg.Threads)
	p.slot.threads = uint32(threads)
	p.tel = newTelemetry(threads)
	p.slot.publish(initial)

	// Carve the nonce space so no two workers ever test the same nonce
	// within a job.
	stride := uint32(0xFFFFFFFF) / uint32(threads)

	started := make(chan error, threads)
	p.workers = make([]*worker, threads)
	for i, t := range p.cfg.Threads {
		fn, err := p.kernels(t.Multiway)
		if err != nil {
			return err
		}
		w := &worker{
			threadNo:   i,
			affinity:   t.Affinity,
			multiway:   t.Multiway,
			memMode:    p.cfg.MemoryMode,
			hashFn:     fn,
			slot:       &p.slot,
			exec:       p.exec,
			tel:        p.tel,
			logger:     p.logger.With("worker", i),
			nonceStart: stride * uint32(i),
			done:       make(chan struct{}),
		}
		p.workers[i] = w
		go w.run(started)

		p.logger.Info("Worker starting",
			"worker", i,
			"multiway", t.Multiway,
			"affinity", t.Affinity,
		)
	}

	var startErr error
	failed := 0
	for range p.workers {
		if err := <-started; err != nil {
			failed++
			if startErr == nil {
				startErr = err
			}
		}
	}
	if startErr != nil {
		// Failed workers never consume, so they must not be waited for.
		p.slot.threads -= uint32(failed)
		p.Shutdown()
		return startErr
	}

	p.started = true
	p.logger.Info("Mining started",
		"threads", threads,
		"memory", p.cfg.MemoryMode.String(),
	)
	return nil
}

// SwitchWork hands over a new work item. It waits until every worker has
// consumed the previous generation, then publishes and bumps the
// generation; workers pick it up on their next loop check.
func (p *Pool) SwitchWork(w WorkItem) {
	waitStart := time.Now()
	for p.slot.consumed.Load() != p.slot.threads {
		time.Sleep(switchPoll)
	}
	p.slot.publish(w)

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordJobSwitch(time.Since(waitStart).Seconds())
	}
	p.logger.Debug("Work switched",
		"job", fmt.Sprintf("%x", w.JobID),
		"stall", w.Stall,
		"wait", time.Since(waitStart).Round(time.Millisecond),
	)
}

// WorkerHashrate returns one worker's hashes/sec over the window, NaN when
// the telemetry ring does not yet span it.
func (p *Pool) WorkerHashrate(thread int, window time.Duration) float64 {
	if p.tel == nil {
		return math.NaN()
	}
	return p.tel.hashrate(thread, window)
}

// Hashrate sums the per-worker hashrates over the window. Workers without
// enough telemetry count as zero; partial reports that at least one did.
func (p *Pool) Hashrate(window time.Duration) (total float64, partial bool) {
	for i := range p.workers {
		hr := p.tel.hashrate(i, window)
		if math.IsNaN(hr) {
			partial = true
			continue
		}
		total += hr
	}
	return total, partial
}

// Shutdown stops every worker and frees their contexts. Workers park at a
// job boundary at least every generation, so a stall broadcast bounds the
// wait.
func (p *Pool) Shutdown() {
	if p.stopped {
		return
	}
	p.stopped = true

	for _, w := range p.workers {
		if w != nil {
			w.quit.Store(true)
		}
	}

	// Kick workers out of their inner loops.
	p.SwitchWork(StallWork())

	for _, w := range p.workers {
		if w != nil {
			<-w.done
		}
	}
	p.logger.Info("Mining stopped")
}

// WorkerSnapshot is one worker's live state for dashboards and reports.
type WorkerSnapshot struct {
	Thread       int     `json:"thread"`
	Multiway     int     `json:"multiway"`
	Affinity     int     `json:"affinity"`
	Hashrate     float64 `json:"hashrate"`
	Hashrate60s  float64 `json:"hashrate_60s"`
	TotalHashes  uint64  `json:"total_hashes"`
	Solutions    uint64  `json:"solutions"`
	LastSampleMS int64   `json:"last_sample_ms"`
}

// Snapshot is the pool-wide live state.
type Snapshot struct {
	InstanceID  string           `json:"instance_id"`
	Threads     int              `json:"threads"`
	Hashrate    float64          `json:"hashrate"`
	Hashrate60s float64          `json:"hashrate_60s"`
	Hashrate15m float64          `json:"hashrate_15m"`
	Partial     bool             `json:"partial"`
	TotalHashes uint64           `json:"total_hashes"`
	Solutions   uint64           `json:"solutions"`
	Workers     []WorkerSnapshot `json:"workers"`
}

// Snapshot collects the live pool state. NaN hashrates are reported as zero
// with Partial set, the same flagging Hashrate uses.
func (p *Pool) Snapshot() Snapshot {
	s := Snapshot{
		InstanceID: p.cfg.InstanceID,
		Threads:    len(p.workers),
		Workers:    make([]WorkerSnapshot, 0, len(p.workers)),
	}
	if p.tel == nil {
		return s
	}
	s.Hashrate, s.Partial = p.Hashrate(2500 * time.Millisecond)
	s.Hashrate60s, _ = p.Hashrate(time.Minute)
	s.Hashrate15m, _ = p.Hashrate(15 * time.Minute)

	for i, w := range p.workers {
		hr := p.tel.hashrate(i, 2500*time.Millisecond)
		hr60 := p.tel.hashrate(i, time.Minute)
		if math.IsNaN(hr) {
			hr = 0
		}
		if math.IsNaN(hr60) {
			hr60 = 0
		}
		ws := WorkerSnapshot{
			Thread:       i,
			Multiway:     w.multiway,
			Affinity:     w.affinity,
			Hashrate:     hr,
			Hashrate60s:  hr60,
			TotalHashes:  w.hashCount.Load(),
			Solutions:    w.solutions.Load(),
			LastSampleMS: w.stampMS.Load(),
		}
		s.TotalHashes += ws.TotalHashes
		s.Solutions += ws.Solutions
		s.Workers = append(s.Workers, ws)

		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RecordWorkerHashrate(i, hr)
		}
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordTotalHashrate(s.Hashrate)
	}
	return s
}
