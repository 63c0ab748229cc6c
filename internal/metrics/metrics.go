package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "depth_overlay"

// Skip reasons used as the "reason" label of frames_skipped_total.
const (
	ReasonShapeMismatch = "shape_mismatch"
	ReasonEmpty         = "empty_frame"
	ReasonMalformed     = "malformed"
	ReasonOther         = "other"
)

type Metrics struct {
	registry *prometheus.Registry

	RawMessages      prometheus.Counter
	MetaMessages     prometheus.Counter
	FramesReceived   prometheus.Counter
	FramesAnnotated  prometheus.Counter
	FramesSkipped    *prometheus.CounterVec
	FrameTimeouts    prometheus.Counter
	SampleOutOfRange *prometheus.CounterVec
	SinkErrors       prometheus.Counter
	SnapshotsWritten prometheus.Counter
	AnnotateSeconds  prometheus.Histogram
	WSClients        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RawMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "raw_messages_total",
			Help: "Messages received from the frame source.",
		}),
		MetaMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "meta_messages_total",
			Help: "Non-frame messages received from the frame source.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Color/depth pairs handed to the annotator.",
		}),
		FramesAnnotated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_annotated_total",
			Help: "Pairs annotated and delivered to the display sink.",
		}),
		FramesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_skipped_total",
			Help: "Pairs dropped without output, by reason.",
		}, []string{"reason"}),
		FrameTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frame_timeouts_total",
			Help: "Waits that ended with no frame available.",
		}),
		SampleOutOfRange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sample_out_of_range_total",
			Help: "Sample points omitted from the overlay, by label.",
		}, []string{"label"}),
		SinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_errors_total",
			Help: "Display sink delivery failures.",
		}),
		SnapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshots_written_total",
			Help: "Annotated frames written to disk.",
		}),
		AnnotateSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "annotate_duration_seconds",
			Help:    "Time spent annotating one pair.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_clients",
			Help: "Connected preview clients.",
		}),
	}
	m.registry.MustRegister(
		m.RawMessages,
		m.MetaMessages,
		m.FramesReceived,
		m.FramesAnnotated,
		m.FramesSkipped,
		m.FrameTimeouts,
		m.SampleOutOfRange,
		m.SinkErrors,
		m.SnapshotsWritten,
		m.AnnotateSeconds,
		m.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveAnnotate(d time.Duration) {
	m.AnnotateSeconds.Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Snapshot flattens the counters for the JSON status endpoint.
func (m *Metrics) Snapshot() map[string]any {
	out := map[string]any{}
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}
	for _, family := range families {
		key, ok := strings.CutPrefix(family.GetName(), namespace+"_")
		if !ok {
			continue
		}
		for _, metric := range family.GetMetric() {
			label := key
			for _, pair := range metric.GetLabel() {
				label += "{" + pair.GetName() + "=" + pair.GetValue() + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[label] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[label] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				out[label+"_count"] = metric.GetHistogram().GetSampleCount()
				out[label+"_sum"] = metric.GetHistogram().GetSampleSum()
			}
		}
	}
	return out
}
