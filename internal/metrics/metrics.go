// Package metrics provides Prometheus metrics for the CodeTogether server.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codetogether_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codetogether_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codetogether_ws_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	wsEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codetogether_ws_events_total",
			Help: "Total inbound WebSocket events by name",
		},
		[]string{"event"},
	)

	broadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codetogether_broadcasts_total",
			Help: "Total room fan-out messages by event name",
		},
		[]string{"event"},
	)

	// Room metrics
	roomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codetogether_rooms_active",
			Help: "Number of rooms with in-memory state",
		},
	)

	roomMembers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "codetogether_room_members",
			Help: "Number of members per room",
		},
		[]string{"room"},
	)

	treeNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "codetogether_tree_nodes",
			Help: "Number of nodes in a room's file tree",
		},
		[]string{"room"},
	)

	// PTY metrics
	ptySessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codetogether_pty_sessions_active",
			Help: "Number of live PTY sessions",
		},
	)

	ptyRespawnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codetogether_pty_respawns_total",
			Help: "Total automatic shell respawns after unexpected exit",
		},
	)

	// Sync metrics
	fsEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codetogether_fs_events_total",
			Help: "Total filesystem watcher events by operation",
		},
		[]string{"op"},
	)

	syncSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codetogether_sync_suppressed_total",
			Help: "Total writes suppressed by the sync arbiter",
		},
		[]string{"origin"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codetogether_auth_attempts_total",
			Help: "Total room authentication attempts",
		},
		[]string{"result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codetogether_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// AddWSConnection adjusts the active WebSocket connection gauge.
func AddWSConnection(delta int) {
	wsConnectionsActive.Add(float64(delta))
}

// RecordWSEvent records an inbound WebSocket event.
func RecordWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

// RecordBroadcast records a room fan-out message.
func RecordBroadcast(event string) {
	broadcastsTotal.WithLabelValues(event).Inc()
}

// SetRoomsActive sets the number of materialized rooms.
func SetRoomsActive(count int) {
	roomsActive.Set(float64(count))
}

// SetRoomMembers sets the member count for a room.
func SetRoomMembers(room string, count int) {
	roomMembers.WithLabelValues(room).Set(float64(count))
}

// SetTreeNodes sets the node count for a room's tree.
func SetTreeNodes(room string, count int) {
	treeNodes.WithLabelValues(room).Set(float64(count))
}

// DropRoom removes per-room series after cleanup.
func DropRoom(room string) {
	roomMembers.DeleteLabelValues(room)
	treeNodes.DeleteLabelValues(room)
}

// SetPTYSessionsActive sets the live PTY session count.
func SetPTYSessionsActive(count int) {
	ptySessionsActive.Set(float64(count))
}

// RecordPTYRespawn records an automatic shell respawn.
func RecordPTYRespawn() {
	ptyRespawnsTotal.Inc()
}

// RecordFSEvent records a filesystem watcher event.
func RecordFSEvent(op string) {
	fsEventsTotal.WithLabelValues(op).Inc()
}

// RecordSyncSuppressed records a write suppressed by the arbiter.
func RecordSyncSuppressed(origin string) {
	syncSuppressedTotal.WithLabelValues(origin).Inc()
}

// RecordAuthAttempt records a room authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the underlying writer so WebSocket upgrades work
// through the middleware chain.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
