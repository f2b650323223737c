// Package metrics exposes Prometheus collectors for pipeline stages,
// kernel launches, transfers and validation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors. It satisfies model.Recorder.
type Metrics struct {
	StageDuration        *prometheus.HistogramVec
	KernelLaunches       *prometheus.CounterVec
	TransferBytes        *prometheus.HistogramVec
	ValidationMismatch   prometheus.Gauge
	ValidationSimilarity prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accelnet_stage_duration_seconds",
			Help:    "Duration of a pipeline operator, including queue drain",
			Buckets: prometheus.ExponentialBuckets(1e-5, 2, 20), // 10us to ~5s
		}, []string{"op"}),
		KernelLaunches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "accelnet_kernel_launches_total",
			Help: "The total number of kernel launches by entry point",
		}, []string{"kernel"}),
		TransferBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accelnet_transfer_bytes",
			Help:    "Size of host/device transfers in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 12), // 64B to ~268MB
		}, []string{"direction"}),
		ValidationMismatch: factory.NewGauge(prometheus.GaugeOpts{
			Name: "accelnet_validation_mismatches",
			Help: "Elements outside tolerance in the last device/reference comparison",
		}),
		ValidationSimilarity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "accelnet_validation_similarity",
			Help: "Cosine similarity of the last device/reference comparison",
		}),
	}
}

// KernelLaunched counts a launch of kernel.
func (m *Metrics) KernelLaunched(kernel string) {
	m.KernelLaunches.WithLabelValues(kernel).Inc()
}

// StageFinished observes the duration of one operator.
func (m *Metrics) StageFinished(op string, d time.Duration) {
	m.StageDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Transferred observes a transfer of n bytes.
func (m *Metrics) Transferred(direction string, n int) {
	m.TransferBytes.WithLabelValues(direction).Observe(float64(n))
}

// Validated records the outcome of a comparison.
func (m *Metrics) Validated(mismatches int, similarity float64) {
	m.ValidationMismatch.Set(float64(mismatches))
	m.ValidationSimilarity.Set(similarity)
}
