// SPDX-License-Identifier: MIT

// Package metrics exposes prometheus instrumentation for the mirror
// resolution engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RaceAttempts counts individual upstream attempts by capability and outcome.
	RaceAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yobi_race_attempts_total",
		Help: "Upstream attempts by capability and outcome",
	}, []string{"capability", "outcome"})

	// RaceWinLatency tracks time to the first valid response per capability.
	RaceWinLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yobi_race_win_latency_seconds",
		Help:    "Time until the first structurally valid upstream response",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
	}, []string{"capability"})

	// RaceExhausted counts operations that failed every endpoint or hit the
	// global deadline.
	RaceExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yobi_race_exhausted_total",
		Help: "Operations that exhausted the pool or the global deadline",
	}, []string{"capability"})

	// PoolSize reports the current pool length per capability.
	PoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "yobi_pool_size",
		Help: "Number of endpoints in each capability pool",
	}, []string{"capability"})

	// CacheRequests counts result cache lookups by status.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yobi_cache_requests_total",
		Help: "Result cache lookups by status (hit, miss, coalesced)",
	}, []string{"status"})

	// MuxJobs counts mux pipeline runs by result.
	MuxJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yobi_mux_jobs_total",
		Help: "Mux pipeline runs by result",
	}, []string{"result"})

	// MuxDuration tracks how long the remux subprocess ran.
	MuxDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "yobi_mux_duration_seconds",
		Help:    "Wall time of the remux subprocess",
		Buckets: []float64{1, 2, 5, 10, 20, 45, 90, 180},
	})
)

// RecordAttempt records a single upstream attempt outcome.
func RecordAttempt(capability, outcome string) {
	RaceAttempts.WithLabelValues(capability, outcome).Inc()
}

// ObserveWin records the latency of a winning attempt.
func ObserveWin(capability string, d time.Duration) {
	RaceWinLatency.WithLabelValues(capability).Observe(d.Seconds())
}

// RecordExhausted records a fully failed operation.
func RecordExhausted(capability string) {
	RaceExhausted.WithLabelValues(capability).Inc()
}

// SetPoolSize updates the pool size gauge.
func SetPoolSize(capability string, n int) {
	PoolSize.WithLabelValues(capability).Set(float64(n))
}

// RecordCache records a cache lookup status.
func RecordCache(status string) {
	CacheRequests.WithLabelValues(status).Inc()
}

// RecordMux records a mux pipeline result and duration.
func RecordMux(result string, d time.Duration) {
	MuxJobs.WithLabelValues(result).Inc()
	if result == "success" {
		MuxDuration.Observe(d.Seconds())
	}
}
