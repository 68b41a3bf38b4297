package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the monitoring loop.
type Metrics struct {
	conversionPercent prometheus.Gauge
	monomerArea       prometheus.Gauge
	standardArea      prometheus.Gauge
	ratio             prometheus.Gauge
	measurementsTotal *prometheus.CounterVec // by outcome: ok, failed
	retriesTotal      prometheus.Counter
	acquisitionTime   prometheus.Histogram
	loopState         *prometheus.GaugeVec // 1 for the current state, 0 otherwise
}

// NewMetrics registers the collectors on the default registry.
func NewMetrics(experimentID string) *Metrics {
	labels := prometheus.Labels{"experiment": experimentID}
	m := &Metrics{
		conversionPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "reactorwatch_conversion_percent", Help: "Latest computed reaction conversion", ConstLabels: labels,
		}),
		monomerArea: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "reactorwatch_monomer_area", Help: "Latest integrated monomer peak area", ConstLabels: labels,
		}),
		standardArea: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "reactorwatch_standard_area", Help: "Latest integrated internal-standard peak area", ConstLabels: labels,
		}),
		ratio: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "reactorwatch_monomer_standard_ratio", Help: "Latest monomer/standard area ratio", ConstLabels: labels,
		}),
		measurementsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reactorwatch_measurements_total", Help: "Measurements by outcome", ConstLabels: labels,
		}, []string{"outcome"}),
		retriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reactorwatch_measurement_retries_total", Help: "Measurement attempts that failed and were retried", ConstLabels: labels,
		}),
		acquisitionTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "reactorwatch_acquisition_seconds",
			Help:        "Duration of one sample transfer + acquisition + integration pass",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
		loopState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reactorwatch_loop_state", Help: "Monitoring loop state (1 = current)", ConstLabels: labels,
		}, []string{"state"}),
	}
	return m
}

// Record exports the values of an appended measurement record.
func (m *Metrics) Record(rec MeasurementRecord) {
	if !rec.Success {
		m.measurementsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.measurementsTotal.WithLabelValues("ok").Inc()
	m.monomerArea.Set(rec.MonomerArea)
	m.ratio.Set(rec.Ratio)
	if rec.StandardArea != nil {
		m.standardArea.Set(*rec.StandardArea)
	}
	if rec.ConversionPercent != nil {
		m.conversionPercent.Set(*rec.ConversionPercent)
	}
}

// MeasurementRetry counts one failed acquisition attempt.
func (m *Metrics) MeasurementRetry() {
	m.retriesTotal.Inc()
}

// ObserveAcquisition records the duration of a successful acquisition pass.
func (m *Metrics) ObserveAcquisition(seconds float64) {
	m.acquisitionTime.Observe(seconds)
}

// SetState marks the current loop state.
func (m *Metrics) SetState(state string) {
	for _, s := range []MonitorState{StateInitializing, StateMeasuring, StateEvaluating, StateWaiting, StateShimming, StateStopped} {
		v := 0.0
		if string(s) == state {
			v = 1.0
		}
		m.loopState.WithLabelValues(string(s)).Set(v)
	}
}
