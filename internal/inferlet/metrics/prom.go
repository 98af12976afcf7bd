package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "inferlet_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferlet_sessions_active",
			Help: "Sessions currently held by the server",
		},
	)

	runsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferlet_runs_queued",
			Help: "Runs waiting for a worker",
		},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferlet_runs_total",
			Help: "Completed runs per model",
		},
		[]string{"model", "outcome"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferlet_run_duration_seconds",
			Help:    "Run duration per model",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	uploadedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferlet_input_bytes_total",
			Help: "Input bytes received per model",
		},
		[]string{"model"},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, sessionsActive, runsQueued, runsTotal, runDuration, uploadedBytes)
}

// SetBuildInfo sets the build info metric for the server.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// SessionOpened tracks a newly created session.
func SessionOpened() {
	sessionsActive.Inc()
}

// SessionClosed tracks a deleted or expired session.
func SessionClosed() {
	sessionsActive.Dec()
}

// RunQueued tracks a session entering the run queue.
func RunQueued() {
	runsQueued.Inc()
}

// RunStarted tracks a worker picking a session off the queue.
func RunStarted() {
	runsQueued.Dec()
}

// RecordRun increments the run counter for a model.
func RecordRun(model string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	runsTotal.WithLabelValues(model, outcome).Inc()
}

// ObserveRunDuration records how long a run took.
func ObserveRunDuration(model string, d time.Duration) {
	runDuration.WithLabelValues(model).Observe(d.Seconds())
}

// RecordUploadedBytes counts input payload received for a model.
func RecordUploadedBytes(model string, n int64) {
	uploadedBytes.WithLabelValues(model).Add(float64(n))
}
