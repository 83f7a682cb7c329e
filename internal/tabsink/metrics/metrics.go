package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const TabsinkMetricsPrefix = "tabsink_"

type WriteResult string

const (
	WriteResultSuccess WriteResult = "success"
	WriteResultFailure WriteResult = "failure"
)

type Metrics struct {
	chunksReceived  prometheus.Counter
	bytesReceived   prometheus.Counter
	malformedLines  prometheus.Counter
	transformErrors prometheus.Counter
	rowsSubmitted   prometheus.Counter
	rowsSettled     *prometheus.CounterVec
	writeDuration   prometheus.Histogram
	outstanding     prometheus.Gauge
	buffered        prometheus.Gauge
	ceiling         prometheus.Gauge
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Get returns metrics registered against the default prometheus registry.
func Get() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(TabsinkMetricsPrefix, prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func NewMetrics(prefix string, registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		chunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "chunks_received",
			Help: "Number of input chunks received",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "bytes_received",
			Help: "Number of input bytes received",
		}),
		malformedLines: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "malformed_lines",
			Help: "Number of input lines dropped because they could not be turned into a record",
		}),
		transformErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "transform_errors",
			Help: "Number of records dropped because the row transform failed",
		}),
		rowsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "rows_submitted",
			Help: "Number of rows handed to the sink",
		}),
		rowsSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "rows_settled",
			Help: "Number of sink writes that have completed, grouped by result",
		}, []string{"result"}),
		writeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "write_duration_seconds",
			Help:    "Time taken by a single sink write",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
		outstanding: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "writes_outstanding",
			Help: "Number of sink writes currently in flight",
		}),
		buffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "rows_buffered",
			Help: "Number of rows waiting for write capacity",
		}),
		ceiling: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "write_ceiling",
			Help: "Maximum number of sink writes allowed in flight",
		}),
	}
}

func (m *Metrics) RecordChunk(size int) {
	m.chunksReceived.Inc()
	m.bytesReceived.Add(float64(size))
}

func (m *Metrics) RecordMalformedLine() {
	m.malformedLines.Inc()
}

func (m *Metrics) RecordTransformError() {
	m.transformErrors.Inc()
}

func (m *Metrics) RecordSubmitted() {
	m.rowsSubmitted.Inc()
}

func (m *Metrics) RecordSettled(err error, duration time.Duration) {
	result := WriteResultSuccess
	if err != nil {
		result = WriteResultFailure
	}
	m.rowsSettled.With(map[string]string{"result": string(result)}).Inc()
	m.writeDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordQueueState(outstanding int, buffered int, ceiling int) {
	m.outstanding.Set(float64(outstanding))
	m.buffered.Set(float64(buffered))
	m.ceiling.Set(float64(ceiling))
}

func (m *Metrics) RecordCeiling(ceiling int) {
	m.ceiling.Set(float64(ceiling))
}
