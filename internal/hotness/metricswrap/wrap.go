// Package metricswrap publishes hotness tracker state as metrics and logs
// communes crossing the hot threshold.
package metricswrap

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bchartier/cadastre.gouv/internal/hotness"
)

type Sizer interface{ Size() int }

type WithMetrics struct {
	inner     hotness.Interface
	threshold float64
	gauge     prometheus.Gauge
	log       *slog.Logger
}

// New wraps inner. gauge receives the number of tracked communes and may
// be nil; threshold <= 0 disables the hot log line.
func New(inner hotness.Interface, threshold float64, gauge prometheus.Gauge, log *slog.Logger) *WithMetrics {
	if log == nil {
		log = slog.Default()
	}
	return &WithMetrics{inner: inner, threshold: threshold, gauge: gauge, log: log}
}

// NewGauge returns the gauge New expects.
func NewGauge() prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hotness_tracked_regions",
		Help: "Communes currently tracked by the hotness model.",
	})
}

func (w *WithMetrics) Inc(region string) {
	var before float64
	if w.threshold > 0 {
		before = w.inner.Score(region)
	}
	w.inner.Inc(region)
	if w.threshold > 0 && before < w.threshold {
		if score := w.inner.Score(region); score >= w.threshold {
			w.log.Info("commune became hot", "event", "hotness_threshold", "region", region, "score", score)
		}
	}
	w.updateGauge()
}

func (w *WithMetrics) Score(region string) float64 {
	return w.inner.Score(region)
}

// Hot reports whether region scores at or above the threshold.
func (w *WithMetrics) Hot(region string) bool {
	return w.threshold > 0 && w.inner.Score(region) >= w.threshold
}

func (w *WithMetrics) Reset(regions ...string) {
	w.inner.Reset(regions...)
	w.updateGauge()
}

func (w *WithMetrics) updateGauge() {
	if w.gauge == nil {
		return
	}
	if s, ok := w.inner.(Sizer); ok {
		w.gauge.Set(float64(s.Size()))
	}
}
