package tune

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exported by the sampling daemon.
var (
	SampleCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mysqltune",
			Subsystem: "sampler",
			Name:      "samples_total",
			Help:      "Counter of completed sampling rounds.",
		})

	SampleErrorCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mysqltune",
			Subsystem: "sampler",
			Name:      "sample_errors_total",
			Help:      "Counter of sampling rounds that failed.",
		})

	SampleDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mysqltune",
			Subsystem: "sampler",
			Name:      "sample_duration_seconds",
			Help:      "Bucketed histogram of sampling round duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		})

	SnapshotsRetainedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mysqltune",
			Subsystem: "sampler",
			Name:      "snapshots_retained",
			Help:      "Gauge of snapshots currently held in the store.",
		})

	FindingsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mysqltune",
			Subsystem: "advisor",
			Name:      "findings",
			Help:      "Gauge of advisor findings from the latest sample, by severity.",
		}, []string{"severity"})

	WorkloadLatencyGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mysqltune",
			Subsystem: "workload",
			Name:      "interval_latency_seconds",
			Help:      "Gauge of total statement latency accumulated in the last sample interval.",
		})

	WorkloadCallsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mysqltune",
			Subsystem: "workload",
			Name:      "interval_calls",
			Help:      "Gauge of statement executions in the last sample interval.",
		})
)

// RegisterMetrics registers all daemon metrics with the default registry.
func RegisterMetrics() {
	prometheus.MustRegister(SampleCounter)
	prometheus.MustRegister(SampleErrorCounter)
	prometheus.MustRegister(SampleDurationHistogram)
	prometheus.MustRegister(SnapshotsRetainedGauge)
	prometheus.MustRegister(FindingsGauge)
	prometheus.MustRegister(WorkloadLatencyGauge)
	prometheus.MustRegister(WorkloadCallsGauge)
}
