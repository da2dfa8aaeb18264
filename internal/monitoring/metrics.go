// Package monitoring exposes the Prometheus collectors of the API.
package monitoring

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	roomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeegg_rooms_created_total",
			Help: "Waiting rooms created",
		},
	)

	roomJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeegg_room_joins_total",
			Help: "Join attempts by result code",
		},
		[]string{"result"},
	)

	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeegg_room_submissions_total",
			Help: "Waiting rooms buried, by mode",
		},
		[]string{"mode"},
	)

	discoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeegg_egg_discoveries_total",
			Help: "First-time easter egg views",
		},
	)

	payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeegg_payments_total",
			Help: "Payment confirmations by result",
		},
		[]string{"result"},
	)

	activeRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timeegg_active_rooms",
			Help: "Waiting rooms not yet buried",
		},
	)

	chatClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timeegg_chat_clients",
			Help: "Connected support chat sockets",
		},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timeegg_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Submission modes.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"
)

func RoomCreated() { roomsCreated.Inc() }
func JoinResult(code string) { roomJoins.WithLabelValues(code).Inc() }
func Submitted(mode string) { submissions.WithLabelValues(mode).Inc() }
func EggDiscovered() { discoveries.Inc() }
func PaymentResult(res string) { payments.WithLabelValues(res).Inc() }
func ChatClientsDelta(d float64) { chatClients.Add(d) }

// RequestMetrics records request latency by route pattern, so path
// parameters do not explode label cardinality.
func RequestMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			requestDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ActiveRoomCounter reports the number of unburied rooms.
type ActiveRoomCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// Monitor refreshes gauges that need a database read.
type Monitor struct {
	rooms  ActiveRoomCounter
	logger *zap.Logger
}

func NewMonitor(rooms ActiveRoomCounter, logger *zap.Logger) *Monitor {
	return &Monitor{rooms: rooms, logger: logger}
}

// Collect updates the gauges once. It is driven by the scheduler.
func (m *Monitor) Collect(ctx context.Context) {
	n, err := m.rooms.CountActive(ctx)
	if err != nil {
		m.logger.Warn("count active rooms", zap.Error(err))
		return
	}
	activeRooms.Set(float64(n))
}
