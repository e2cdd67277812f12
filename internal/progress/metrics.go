package progress

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nao1215/politecrawl/internal/model"
)

const metricsNamespace = "politecrawl"

// MetricsSink exports session events as Prometheus metrics.
type MetricsSink struct {
	Counters       *prometheus.GaugeVec
	ActiveRequests prometheus.Gauge
	QueueLength    prometheus.Gauge
	PendingRetries prometheus.Gauge
	PagesPerSecond prometheus.Gauge
	Pages          *prometheus.CounterVec
	LogEvents      *prometheus.CounterVec
	Sessions       prometheus.Counter
}

// NewMetricsSink creates the metrics and registers them with reg.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	m := &MetricsSink{
		Counters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "session_counter",
			Help:      "Current value of a session statistics counter",
		}, []string{"counter"}),
		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_requests",
			Help:      "Pipeline invocations in flight",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_length",
			Help:      "Work items waiting for dispatch",
		}),
		PendingRetries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_retries",
			Help:      "Armed retry timers",
		}),
		PagesPerSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pages_per_second",
			Help:      "Crawl throughput",
		}),
		Pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pages_total",
			Help:      "Pages processed, by rendering mode and status code",
		}, []string{"dynamic", "status"}),
		LogEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "log_events_total",
			Help:      "Log events emitted, by level",
		}, []string{"level"}),
		Sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions that emitted their final statistics",
		}),
	}

	collectors := []prometheus.Collector{
		m.Counters, m.ActiveRequests, m.QueueLength, m.PendingRetries,
		m.PagesPerSecond, m.Pages, m.LogEvents, m.Sessions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// EmitStats implements Sink.
func (m *MetricsSink) EmitStats(s model.StatsSnapshot) {
	m.setCounters(s.Counters)
	m.ActiveRequests.Set(float64(s.Active))
	m.QueueLength.Set(float64(s.Queued))
	m.PendingRetries.Set(float64(s.PendingRetries))
	m.PagesPerSecond.Set(s.PagesPerSecond)
}

// EmitPage implements Sink.
func (m *MetricsSink) EmitPage(p model.PageEnvelope) {
	if p.Page == nil {
		return
	}
	m.Pages.WithLabelValues(strconv.FormatBool(p.Page.IsDynamic), strconv.Itoa(p.Page.StatusCode)).Inc()
}

// EmitLog implements Sink.
func (m *MetricsSink) EmitLog(e model.LogEvent) {
	m.LogEvents.WithLabelValues(string(e.Level)).Inc()
}

// EmitSessionEnd implements Sink.
func (m *MetricsSink) EmitSessionEnd(_ string, stats model.FinalStats) {
	m.Counters.WithLabelValues("pages_scanned").Set(float64(stats.PagesScanned))
	m.Counters.WithLabelValues("success").Set(float64(stats.SuccessCount))
	m.Counters.WithLabelValues("failure").Set(float64(stats.FailureCount))
	m.Counters.WithLabelValues("skipped").Set(float64(stats.SkippedCount))
	m.ActiveRequests.Set(0)
	m.QueueLength.Set(0)
	m.PendingRetries.Set(0)
	m.Sessions.Inc()
}

func (m *MetricsSink) setCounters(c model.Counters) {
	m.Counters.WithLabelValues("pages_scanned").Set(float64(c.PagesScanned))
	m.Counters.WithLabelValues("links_found").Set(float64(c.LinksFound))
	m.Counters.WithLabelValues("media_files").Set(float64(c.MediaFiles))
	m.Counters.WithLabelValues("success").Set(float64(c.SuccessCount))
	m.Counters.WithLabelValues("failure").Set(float64(c.FailureCount))
	m.Counters.WithLabelValues("skipped").Set(float64(c.SkippedCount))
	m.Counters.WithLabelValues("bytes").Set(float64(c.TotalBytes))
}
