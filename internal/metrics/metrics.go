package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters. Registered once on the default registry; the
// router exposes them at the configured metrics path.
var (
	TurnsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chattrain_turns_processed_total",
		Help: "Turns that completed the pipeline, by outcome.",
	}, []string{"outcome"})

	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chattrain_rate_limit_denials_total",
		Help: "Admission checks denied by the rate limiter.",
	}, []string{"class"})

	SecurityRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chattrain_security_rejections_total",
		Help: "Turns refused by the input validator.",
	}, []string{"reason"})

	MaskingAlarms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chattrain_masking_integrity_failures_total",
		Help: "Post-mask verification failures (detector coverage gaps).",
	})

	ProviderRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chattrain_provider_retries_total",
		Help: "Transient provider failures that triggered a retry.",
	})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chattrain_turn_duration_seconds",
		Help:    "End-to-end turn processing time.",
		Buckets: prometheus.DefBuckets,
	})
)
