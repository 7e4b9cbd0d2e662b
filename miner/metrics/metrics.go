// Package metrics provides Prometheus metrics for the mining worker pool
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all miner Prometheus metrics
type Metrics struct {
	// Worker metrics
	WorkerHashrate *prometheus.GaugeVec
	TotalHashrate  prometheus.Gauge

	// Solution metrics
	SolutionsFound *prometheus.CounterVec

	// Job metrics
	JobSwitches prometheus.Counter
	SwitchWait  prometheus.Histogram

	// Startup metrics
	SelfTestOK prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "cnminer"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.WorkerHashrate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_hashrate",
		Help:      "Hashrate per worker thread in H/s",
	}, []string{"worker"})

	m.TotalHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "total_hashrate",
		Help:      "Aggregate hashrate in H/s",
	})

	m.SolutionsFound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "solutions_found_total",
		Help:      "Total number of solutions found",
	}, []string{"pool_id"})

	m.JobSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_switches_total",
		Help:      "Total number of work item switches",
	})

	m.SwitchWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "switch_wait_seconds",
		Help:      "Time spent waiting for workers to consume the previous job",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 8), // 10ms to 1.28s
	})

	m.SelfTestOK = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "selftest_ok",
		Help:      "Whether the kernel self-test passed (1=ok, 0=failed)",
	})

	m.registry.MustRegister(
		m.WorkerHashrate,
		m.TotalHashrate,
		m.SolutionsFound,
		m.JobSwitches,
		m.SwitchWait,
		m.SelfTestOK,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordWorkerHashrate records one worker's hashrate
func (m *Metrics) RecordWorkerHashrate(thread int, hashrate float64) {
	m.WorkerHashrate.WithLabelValues(strconv.Itoa(thread)).Set(hashrate)
}

// RecordTotalHashrate records the aggregate hashrate
func (m *Metrics) RecordTotalHashrate(hashrate float64) {
	m.TotalHashrate.Set(hashrate)
}

// RecordSolution counts a found solution
func (m *Metrics) RecordSolution(poolID int) {
	m.SolutionsFound.WithLabelValues(strconv.Itoa(poolID)).Inc()
}

// RecordJobSwitch counts a work switch and its consume wait
func (m *Metrics) RecordJobSwitch(waitSeconds float64) {
	m.JobSwitches.Inc()
	m.SwitchWait.Observe(waitSeconds)
}

// SetSelfTest records the self-test outcome
func (m *Metrics) SetSelfTest(ok bool) {
	if ok {
		m.SelfTestOK.Set(1)
	} else {
		m.SelfTestOK.Set(0)
	}
}

// ServeMetrics starts an HTTP server for metrics
func ServeMetrics(addr string, metrics *Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return http.ListenAndServe(addr, mux)
}
