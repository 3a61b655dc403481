package internal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors updated by the registries and the error handler.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AppliersRegistered prometheus.Counter
	AppliersFinished   prometheus.Counter
	AppliersFailed     prometheus.Counter
	AppliersActive     prometheus.Gauge
	ErrorsReported     *prometheus.CounterVec
	FrameDuration      prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AppliersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worklet_appliers_registered_total",
			Help: "Total number of appliers registered for execution",
		}),
		AppliersFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worklet_appliers_finished_total",
			Help: "Total number of appliers that ran to completion",
		}),
		AppliersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worklet_appliers_failed_total",
			Help: "Total number of appliers whose worklet raised",
		}),
		AppliersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worklet_appliers_active",
			Help: "Number of appliers waiting for or running in a frame",
		}),
		ErrorsReported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worklet_errors_reported_total",
			Help: "Total number of errors handed to the error handler",
		}, []string{"kind"}),
		FrameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worklet_frame_duration_seconds",
			Help:    "Duration of a rendered frame",
			Buckets: []float64{.0005, .001, .004, .008, .016, .033, .066, .1},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.AppliersRegistered,
			m.AppliersFinished,
			m.AppliersFailed,
			m.AppliersActive,
			m.ErrorsReported,
			m.FrameDuration,
		)
	}

	return m
}

func (m *Metrics) registered() {
	if m != nil {
		m.AppliersRegistered.Inc()
		m.AppliersActive.Inc()
	}
}

func (m *Metrics) finished(failed bool) {
	if m == nil {
		return
	}
	m.AppliersActive.Dec()
	if failed {
		m.AppliersFailed.Inc()
	} else {
		m.AppliersFinished.Inc()
	}
}

func (m *Metrics) cancelled() {
	if m != nil {
		m.AppliersActive.Dec()
	}
}

func (m *Metrics) reported(kind Kind) {
	if m != nil {
		m.ErrorsReported.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) frame(seconds float64) {
	if m != nil {
		m.FrameDuration.Observe(seconds)
	}
}
