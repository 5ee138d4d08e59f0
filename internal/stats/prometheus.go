package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exposes the run counters through a dedicated Prometheus
// registry.
type Exporter struct {
	registry *prometheus.Registry
}

func NewExporter(counters *Counters) *Exporter {
	e := &Exporter{registry: prometheus.NewRegistry()}
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"anomaly_pipeline_ticks_total", "Total scheduling ticks", counters.Ticks.Load},
		{"anomaly_pipeline_frames_analyzed_total", "Frames sent to the recognizer", counters.Analyzed.Load},
		{"anomaly_pipeline_frames_skipped_total", "Ticks that reused the cached result", counters.Skipped.Load},
		{"anomaly_pipeline_video_not_ready_total", "Ticks stalled waiting for video readiness", counters.NotReady.Load},
		{"anomaly_pipeline_detection_failures_total", "Detection passes that failed", counters.Failures.Load},
		{"anomaly_pipeline_anomalies_total", "Anomalies emitted", counters.Anomalies.Load},
	}
	for _, g := range gauges {
		load := g.load
		e.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
	return e
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
