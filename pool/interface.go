package pool

import (
	"context"
	"time"
)

// Handle is the backend object a Driver hands out, such as *sql.Conn or *redis.Client.
type Handle interface{}

// Endpoint describes where a Driver connects to.
type Endpoint struct {
	Host     string
	Port     int
	Database string
}

// Driver dials, closes and probes backend connections for a pool.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Dial opens a new backend connection. The context carries the connection timeout.
	Dial(ctx context.Context) (Handle, error)

	// Close releases the backend connection.
	Close(ctx context.Context, h Handle) error

	// Ping probes the connection and reports the observed latency.
	Ping(ctx context.Context, h Handle) (time.Duration, error)

	// Endpoint reports the backend address stamped onto new connections.
	Endpoint() Endpoint
}

// MetricsSink receives per-pool gauges from the monitor loop.
// Calls are fire-and-forget; a failing sink never fails pool operations.
type MetricsSink interface {
	RecordGauge(pool, kind string, value float64)
}

// Gauge kinds exported for every pool.
const (
	GaugeTotal   = "total"
	GaugeActive  = "active"
	GaugeIdle    = "idle"
	GaugeWaiting = "waiting"
)

type nopSink struct{}

func (nopSink) RecordGauge(string, string, float64) {}

// ConnectionType identifies the kind of backend a pool talks to.
type ConnectionType string

const (
	TypePostgres ConnectionType = "postgres"
	TypeRedis    ConnectionType = "redis"
	TypeHTTP     ConnectionType = "http"
	TypeGRPC     ConnectionType = "grpc"
	TypeSQLite   ConnectionType = "sqlite"
	TypeExternal ConnectionType = "external"
)

// ConnectionStatus is the lifecycle state of a pooled connection.
type ConnectionStatus string

const (
	// StatusIdle indicates the connection is in the pool and not being used.
	StatusIdle ConnectionStatus = "idle"

	// StatusActive indicates the connection is checked out by a caller.
	StatusActive ConnectionStatus = "active"
)

// ConnectionHealth is the result of the latest probe of a connection.
type ConnectionHealth string

const (
	ConnectionHealthy   ConnectionHealth = "healthy"
	ConnectionUnhealthy ConnectionHealth = "unhealthy"
)

// HealthStatus classifies a whole pool from its health ratio.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// Event represents a connection lifecycle event.
type Event int

const (
	// EventCreate is triggered when a new connection is dialed and added to a pool.
	EventCreate Event = iota

	// EventAcquire is triggered when a connection is checked out.
	EventAcquire

	// EventRelease is triggered when a connection is recycled to idle.
	EventRelease

	// EventDestroy is triggered when a connection is removed from a pool.
	EventDestroy
)

func (e Event) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventAcquire:
		return "acquire"
	case EventRelease:
		return "release"
	case EventDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// EventListener is notified about connection lifecycle events.
// It is called synchronously, so implementations should return quickly.
type EventListener interface {
	OnEvent(event Event, conn Connection)
}
