package server

import (
	"runtime"
	"time"

	"zair/zair-prover/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProofRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zair_prover_proof_requests_total",
			Help: "Total number of proof generation requests by pool",
		},
		[]string{"pool"},
	)

	ProofGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zair_prover_proof_generation_duration_seconds",
			Help:    "Duration of proof generation in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"pool"},
	)

	ProofGenerationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zair_prover_proof_generation_errors_total",
			Help: "Total number of proof generation errors by pool",
		},
		[]string{"pool", "error_type"},
	)

	ProofPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zair_prover_proof_panics_total",
			Help: "Total number of panics recovered during proof processing",
		},
	)

	QueueWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zair_prover_queue_wait_time_seconds",
			Help:    "Time spent waiting in queue before processing",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zair_prover_jobs_processed_total",
			Help: "Total number of jobs processed",
		},
		[]string{"status"},
	)

	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zair_prover_active_jobs",
			Help: "Number of currently active proof generation jobs",
		},
	)

	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zair_verifier_claims_total",
			Help: "Claims checked by the verify endpoint",
		},
		[]string{"pool", "result"},
	)

	SystemMemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zair_prover_system_memory_bytes",
			Help: "System memory statistics",
		},
		[]string{"type"}, // heap_alloc, heap_inuse, sys
	)
)

type MetricTimer struct {
	start          time.Time
	pool           string
	startHeapAlloc uint64
}

func StartProofTimer(pool string) *MetricTimer {
	ProofRequestsTotal.WithLabelValues(pool).Inc()
	ActiveJobs.Inc()

	memStats := recordMemory()
	return &MetricTimer{
		start:          time.Now(),
		pool:           pool,
		startHeapAlloc: memStats.HeapAlloc,
	}
}

func (t *MetricTimer) ObserveDuration() time.Duration {
	elapsed := time.Since(t.start)
	ProofGenerationDuration.WithLabelValues(t.pool).Observe(elapsed.Seconds())
	ActiveJobs.Dec()

	memStats := recordMemory()
	memDelta := max(int64(memStats.HeapAlloc)-int64(t.startHeapAlloc), 0)

	logging.Logger().Info().
		Str("pool", t.pool).
		Float64("duration_sec", elapsed.Seconds()).
		Int64("delta_mb", memDelta/1024/1024).
		Uint64("sys_mb", memStats.Sys/1024/1024).
		Msg("Proof generation completed")
	return elapsed
}

func (t *MetricTimer) ObserveError(errorType string) {
	ProofGenerationErrors.WithLabelValues(t.pool, errorType).Inc()
	ActiveJobs.Dec()
	recordMemory()
}

func recordMemory() runtime.MemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	SystemMemoryUsage.WithLabelValues("heap_alloc").Set(float64(memStats.HeapAlloc))
	SystemMemoryUsage.WithLabelValues("heap_inuse").Set(float64(memStats.HeapInuse))
	SystemMemoryUsage.WithLabelValues("sys").Set(float64(memStats.Sys))
	return memStats
}
