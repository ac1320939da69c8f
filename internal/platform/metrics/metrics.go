package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the packager and its
// playlist server.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	playlistsServedTotal prometheus.Counter

	samplesTotal          prometheus.Counter
	segmentsWrittenTotal  prometheus.Counter
	bytesWrittenTotal     prometheus.Counter
	encryptionEventsTotal prometheus.Counter
	handlerErrorsTotal    prometheus.Counter
	listenerMisuseTotal   prometheus.Counter
	streamsEndedTotal     prometheus.Counter
	activeStreams         prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packager_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packager_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		playlistsServedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packager_playlists_served_total",
			Help: "Total number of playlists served over HTTP",
		}),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packager_samples_total",
			Help: "Total number of media samples muxed",
		}),
		segmentsWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packager_segments_written_total",
			Help: "Total number of media segments written",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packager_bytes_written_total",
			Help: "Total number of media segment bytes written",
		}),
		encryptionEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packager_encryption_events_total",
			Help: "Total number of encryption info and encryption start events",
		}),
		handlerErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packager_handler_errors_total",
			Help: "Total number of pipelines aborted by a handler error",
		}),
		listenerMisuseTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packager_listener_misuse_total",
			Help: "Total number of muxer listener calls rejected as out of order",
		}),
		streamsEndedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packager_streams_ended_total",
			Help: "Total number of streams ended",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "packager_active_streams",
			Help: "Number of registered streams that are not ended",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.playlistsServedTotal,
		m.samplesTotal,
		m.segmentsWrittenTotal,
		m.bytesWrittenTotal,
		m.encryptionEventsTotal,
		m.handlerErrorsTotal,
		m.listenerMisuseTotal,
		m.streamsEndedTotal,
		m.activeStreams,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

func (m *Metrics) IncPlaylistsServed() {
	m.playlistsServedTotal.Inc()
}

func (m *Metrics) AddSamples(n int) {
	m.samplesTotal.Add(float64(n))
}

// IncSegmentsWritten counts one segment of size bytes.
func (m *Metrics) IncSegmentsWritten(size uint64) {
	m.segmentsWrittenTotal.Inc()
	m.bytesWrittenTotal.Add(float64(size))
}

func (m *Metrics) IncEncryptionEvents() {
	m.encryptionEventsTotal.Inc()
}

func (m *Metrics) IncHandlerErrors() {
	m.handlerErrorsTotal.Inc()
}

func (m *Metrics) IncListenerMisuse() {
	m.listenerMisuseTotal.Inc()
}

// IncStreamsEnded increments the streams ended counter.
func (m *Metrics) IncStreamsEnded() {
	m.streamsEndedTotal.Inc()
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active streams).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
