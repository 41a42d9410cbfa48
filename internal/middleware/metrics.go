package middleware

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWebSockets is the gauge of currently open WebSocket connections.
	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plistings_websocket_connections_active",
		Help: "Number of active WebSocket connections",
	})

	// WebSocketEventsTotal counts processed socket events by name.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plistings_websocket_events_total",
		Help: "Total WebSocket events by event name",
	}, []string{"event"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by namespace and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plistings_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"namespace", "reason"})

	// RedisErrors counts Redis command failures by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plistings_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// MessagesPersisted counts chat messages written to the database per namespace.
	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plistings_messages_persisted_total",
		Help: "Total chat messages persisted, labeled by listing namespace",
	}, []string{"namespace"})
)

var (
	promOnce sync.Once
	promInst *fiberprometheus.FiberPrometheus
)

// InitMetrics creates the Prometheus HTTP middleware for the given service
// name. The instance is shared: fiberprometheus registers its collectors on
// the default registry, which tolerates only one registration per process.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		promInst = fiberprometheus.New(serviceName)
	})
	return promInst
}

// MetricsMiddleware wraps the fiberprometheus middleware as a fiber.Handler.
func MetricsMiddleware(prom *fiberprometheus.FiberPrometheus) fiber.Handler {
	return prom.Middleware
}
