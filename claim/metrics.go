package claim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zair_claim_notes_total",
			Help: "Notes processed by the claim pipeline by pool and outcome",
		},
		[]string{"pool", "status"},
	)

	ClaimProofDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zair_claim_proof_duration_seconds",
			Help:    "Duration of a single non-membership proof",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"pool"},
	)

	ActiveProvers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zair_claim_active_provers",
			Help: "Proofs currently being generated by the claim pipeline",
		},
	)
)
