package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"reimage/internal/processor"
)

const namespace = "reimage"

type Options struct {
	Labels prometheus.Labels
}

func copyLabels(p prometheus.Labels) prometheus.Labels {
	x := prometheus.Labels{}
	for k, v := range p {
		x[k] = v
	}

	return x
}

// Instance records run and file events as Prometheus metrics.
type Instance struct {
	runs         *prometheus.CounterVec
	files        *prometheus.CounterVec
	dirs         prometheus.Counter
	running      prometheus.Gauge
	fileDuration prometheus.Histogram
	runDuration  prometheus.Histogram
}

var _ processor.Metrics = (*Instance)(nil)

func NewPrometheus(o Options) *Instance {
	return &Instance{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "runs_total",
			Help:        "The total number of runs by how they ended",
			ConstLabels: copyLabels(o.Labels),
		}, []string{"result"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "files_total",
			Help:        "The total number of files handled by outcome",
			ConstLabels: copyLabels(o.Labels),
		}, []string{"action"}),
		dirs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "dirs_total",
			Help:        "The total number of directories visited",
			ConstLabels: copyLabels(o.Labels),
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "running",
			Help:        "Whether a run is in progress",
			ConstLabels: copyLabels(o.Labels),
		}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "file_duration_seconds",
			Help:        "The seconds spent on a single file",
			ConstLabels: copyLabels(o.Labels),
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "The seconds spent on a whole run",
			ConstLabels: copyLabels(o.Labels),
			Buckets:     prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
	}
}

func (m *Instance) Register(r prometheus.Registerer) {
	r.MustRegister(
		m.runs,
		m.files,
		m.dirs,
		m.running,
		m.fileDuration,
		m.runDuration,
	)
}

func (m *Instance) RunStarted() func(cancelled bool) {
	start := time.Now()
	m.running.Set(1)

	return func(cancelled bool) {
		result := "finished"
		if cancelled {
			result = "cancelled"
		}
		m.runs.WithLabelValues(result).Inc()
		m.running.Set(0)
		m.runDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Instance) DirVisited() {
	m.dirs.Inc()
}

func (m *Instance) FileProcessed(action processor.Action, took time.Duration) {
	m.files.WithLabelValues(action.String()).Inc()
	m.fileDuration.Observe(took.Seconds())
}
