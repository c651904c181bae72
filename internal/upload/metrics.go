package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the pipeline
type Metrics struct {
	transitions     *prometheus.CounterVec
	uploadDuration  *prometheus.HistogramVec
	uploadedBytes   prometheus.Counter
	batchSize       *prometheus.HistogramVec
	batchDuration   *prometheus.HistogramVec
	inflightUploads prometheus.Gauge
	sessionsStarted prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the instance registered with the global registry
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			panic(err)
		}
		sharedMetrics = m
	})
	return sharedMetrics
}

// NewMetrics registers the pipeline collectors with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photoflow",
			Subsystem: "upload",
			Name:      "item_transitions_total",
			Help:      "Item status transitions applied by the session store.",
		}, []string{"to"}),
		uploadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "photoflow",
			Subsystem: "upload",
			Name:      "storage_upload_duration_seconds",
			Help:      "Latency of object storage uploads.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "photoflow",
			Subsystem: "upload",
			Name:      "storage_uploaded_bytes_total",
			Help:      "Bytes accepted by object storage.",
		}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "photoflow",
			Subsystem: "upload",
			Name:      "registration_batch_size",
			Help:      "Number of items per registration batch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}, []string{"reason"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "photoflow",
			Subsystem: "upload",
			Name:      "registration_batch_duration_seconds",
			Help:      "Latency of bulk registration calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		inflightUploads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "photoflow",
			Subsystem: "upload",
			Name:      "inflight_storage_uploads",
			Help:      "Storage uploads currently in flight.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "photoflow",
			Subsystem: "upload",
			Name:      "sessions_started_total",
			Help:      "Upload sessions started.",
		}),
	}

	collectors := []prometheus.Collector{
		m.transitions, m.uploadDuration, m.uploadedBytes, m.batchSize,
		m.batchDuration, m.inflightUploads, m.sessionsStarted,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register upload metric: %w", err)
		}
	}
	return m, nil
}

// OnTransition implements Observer
func (m *Metrics) OnTransition(t Transition) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(t.To)).Inc()
}

func (m *Metrics) observeUpload(d time.Duration, bytes int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.uploadDuration.WithLabelValues("error").Observe(d.Seconds())
		return
	}
	m.uploadDuration.WithLabelValues("ok").Observe(d.Seconds())
	m.uploadedBytes.Add(float64(bytes))
}

func (m *Metrics) observeBatch(reason string, size int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.batchSize.WithLabelValues(reason).Observe(float64(size))
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.batchDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) uploadStarted() {
	if m != nil {
		m.inflightUploads.Inc()
	}
}

func (m *Metrics) uploadFinished() {
	if m != nil {
		m.inflightUploads.Dec()
	}
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}
