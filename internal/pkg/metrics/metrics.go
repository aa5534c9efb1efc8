package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ValidationRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdpcore_validation_rejects_total",
		Help: "Position validation rejections by reason",
	}, []string{"reason"})

	Adjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdpcore_position_adjustments_total",
		Help: "Position adjustments by operation and outcome",
	}, []string{"op", "outcome"})

	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdpcore_liquidations_total",
		Help: "Liquidations by winning strategy and outcome",
	}, []string{"strategy", "outcome"})

	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdpcore_settlements_total",
		Help: "Forced settlements by outcome",
	}, []string{"outcome"})

	AccrualPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdpcore_interest_accrual_passes_total",
		Help: "Completed interest accrual passes",
	})

	ScannerIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdpcore_scanner_iterations_total",
		Help: "Positions examined by the background scanner",
	})

	ScannerSkippedTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdpcore_scanner_skipped_ticks_total",
		Help: "Scanner ticks skipped because the scan lock was held",
	})

	ScannerSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdpcore_scanner_submissions_total",
		Help: "Commands submitted by the background scanner",
	}, []string{"kind"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdpcore_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
