package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aprstrack_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aprstrack_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aprstrack_fetch_total",
			Help: "APRS fetches by device and result (ok, failure).",
		},
		[]string{"device", "result"},
	)

	parseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aprstrack_parse_errors_total",
			Help: "Payloads dropped as malformed, by device.",
		},
		[]string{"device"},
	)

	recordsAddedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aprstrack_records_added_total",
			Help: "New telemetry records merged into the history.",
		},
	)

	historyRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aprstrack_history_records",
			Help: "Records currently held in the telemetry history.",
		},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aprstrack_poll_cycle_duration_seconds",
			Help:    "Duration of one fetch-normalize-merge-point cycle.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	pollWaitSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aprstrack_poll_wait_seconds",
			Help: "Current wait before the next poll cycle.",
		},
	)

	pointingAzimuth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aprstrack_pointing_azimuth_degrees",
			Help: "Latest antenna azimuth, clockwise from true north.",
		},
	)

	pointingElevation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aprstrack_pointing_elevation_degrees",
			Help: "Latest antenna elevation above the local horizon.",
		},
	)

	pointingRange = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aprstrack_pointing_range_meters",
			Help: "Latest slant range from the ground station to the target.",
		},
	)

	pointingStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aprstrack_pointing_total",
			Help: "Pointing computations by status.",
		},
		[]string{"status"},
	)

	archiveErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aprstrack_archive_errors_total",
			Help: "Failed history archive writes.",
		},
	)

	historyAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aprstrack_history_age_seconds",
			Help: "Seconds since the history was last updated.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aprstrack_stream_connections_total",
			Help: "SSE stream connection events (connect, disconnect).",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aprstrack_streams_active",
			Help: "Currently open SSE streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aprstrack_stream_messages_total",
			Help: "SSE data messages sent.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aprstrack_stream_bytes_total",
			Help: "Bytes written to SSE streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aprstrack_stream_errors_total",
			Help: "SSE stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		fetchTotal,
		parseErrorsTotal,
		recordsAddedTotal,
		historyRecords,
		cycleDurationSeconds,
		pollWaitSeconds,
		pointingAzimuth,
		pointingElevation,
		pointingRange,
		pointingStatus,
		archiveErrorsTotal,
		historyAgeSeconds,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordFetch counts one APRS fetch for device.
func RecordFetch(device string, ok bool) {
	result := "ok"
	if !ok {
		result = "failure"
	}
	fetchTotal.WithLabelValues(device, result).Inc()
}

// IncParseErrors counts a malformed payload from device.
func IncParseErrors(device string) {
	parseErrorsTotal.WithLabelValues(device).Inc()
}

// RecordMerge records the outcome of a history merge.
func RecordMerge(added, total int) {
	recordsAddedTotal.Add(float64(added))
	historyRecords.Set(float64(total))
}

// ObserveCycle records a poll cycle duration and the wait before the next one.
func ObserveCycle(d, nextWait time.Duration) {
	cycleDurationSeconds.Observe(d.Seconds())
	pollWaitSeconds.Set(nextWait.Seconds())
}

// SetPointing publishes the latest pointing solution.
func SetPointing(az, el, rangeM float64) {
	pointingAzimuth.Set(az)
	pointingElevation.Set(el)
	pointingRange.Set(rangeM)
}

// IncPointing counts a pointing computation with the given status.
func IncPointing(status string) {
	pointingStatus.WithLabelValues(status).Inc()
}

// IncArchiveErrors counts a failed archive write.
func IncArchiveErrors() {
	archiveErrorsTotal.Inc()
}

// SetHistoryAge sets the history age gauge.
func SetHistoryAge(seconds float64) {
	historyAgeSeconds.Set(seconds)
}

// IncStreamConnections counts a stream connect or disconnect.
func IncStreamConnections(event string) {
	streamConnectionsTotal.WithLabelValues(event).Inc()
}

// IncStreamsActive increments the open stream gauge.
func IncStreamsActive() {
	streamsActive.Inc()
}

// DecStreamsActive decrements the open stream gauge.
func DecStreamsActive() {
	streamsActive.Dec()
}

// IncStreamMessages counts one SSE data message.
func IncStreamMessages() {
	streamMessagesTotal.Inc()
}

// AddStreamBytes adds n bytes written to a stream.
func AddStreamBytes(n int64) {
	streamBytesTotal.Add(float64(n))
}

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// knownRoutes are exposed as their own path label; everything else is "other".
var knownRoutes = map[string]bool{
	"/":                         true,
	"/healthz":                  true,
	"/readyz":                   true,
	"/metrics":                  true,
	"/api/v1/telemetry/latest":  true,
	"/api/v1/telemetry/history": true,
	"/api/v1/pointing":          true,
	"/api/v1/poll":              true,
	"/api/v1/stream":            true,
}

// normalizeRoute bounds the path label cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through so streaming handlers keep working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
