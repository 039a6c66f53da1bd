package poolservice

import (
	"context"
	"testing"
	"time"

	"github.com/fyerfyer/connpool/internal/config"
	"github.com/fyerfyer/connpool/pool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheSpec(name string) config.PoolSpec {
	return config.PoolSpec{
		Name:                    name,
		Type:                    string(pool.TypeRedis),
		Driver:                  config.DriverSimulated,
		MaxConnections:          2,
		MinConnections:          1,
		AcquireTimeout:          "100ms",
		HealthCheckInterval:     "1h",
		CircuitBreakerThreshold: 2,
	}
}

func newTestService(t *testing.T, specs ...config.PoolSpec) *ManagerService {
	t.Helper()
	cfg := config.Default()
	cfg.Pools = specs

	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})
	return s
}

func TestNew_DefaultPools(t *testing.T) {
	s := newTestService(t, config.Default().Pools...)

	pools := s.ListPools()
	require.Len(t, pools, 3)
	assert.Equal(t, "http", pools[0].Name)
	assert.Equal(t, "postgres", pools[1].Name)
	assert.Equal(t, "redis", pools[2].Name)

	assert.Equal(t, pool.TypePostgres, pools[1].Type)
	assert.Equal(t, config.DriverSimulated, pools[1].Driver)
	assert.Equal(t, 5, pools[1].Total)
	assert.Equal(t, 20, pools[1].Max)
	assert.Equal(t, 10, pools[0].Idle)
}

func TestNew_InvalidPool(t *testing.T) {
	cfg := config.Default()
	cfg.Pools = []config.PoolSpec{cacheSpec("a"), {Name: "b", Driver: config.DriverHTTP, Endpoint: config.EndpointSpec{URL: "::bad"}}}

	_, err := New(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestService_AcquireRelease(t *testing.T) {
	s := newTestService(t, cacheSpec("cache"))
	ctx := context.Background()

	conn, err := s.Acquire(ctx, "cache", 0, false)
	require.NoError(t, err)
	assert.Equal(t, pool.StatusActive, conn.Status)

	stats, err := s.PoolStats("cache")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Metrics.Active)

	require.NoError(t, s.Release("cache", conn.ID, true))
	stats, err = s.PoolStats("cache")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Metrics.Active)
	require.Len(t, stats.Connections, 1)
	assert.Equal(t, 1, stats.Connections[0].ErrorCount)

	balanced, err := s.Balance("cache")
	require.NoError(t, err)
	assert.Equal(t, conn.ID, balanced.ID)

	conn, err = s.Acquire(ctx, "cache", 0, true)
	require.NoError(t, err)
	require.NoError(t, s.Release("cache", conn.ID, false))

	err = s.Release("cache", conn.ID, false)
	assert.ErrorIs(t, err, pool.ErrConnectionNotActive)
}

func TestService_AcquireTimeout(t *testing.T) {
	s := newTestService(t, cacheSpec("cache"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Acquire(ctx, "cache", 0, false)
		require.NoError(t, err)
	}

	start := time.Now()
	_, err := s.Acquire(ctx, "cache", 50*time.Millisecond, false)
	assert.ErrorIs(t, err, pool.ErrAcquireTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestService_CreateAndRemove(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.CreatePool(cacheSpec("cache"))
	require.NoError(t, err)

	_, err = s.CreatePool(cacheSpec("cache"))
	assert.ErrorIs(t, err, pool.ErrPoolExists)

	spec := cacheSpec("broken")
	spec.Driver = "mongo"
	_, err = s.CreatePool(spec)
	assert.Error(t, err)

	spec = cacheSpec("broken")
	spec.MinConnections = 5
	_, err = s.CreatePool(spec)
	assert.ErrorIs(t, err, pool.ErrInvalidConfig)

	require.NoError(t, s.RemovePool(ctx, "cache"))
	_, err = s.PoolStats("cache")
	assert.ErrorIs(t, err, pool.ErrPoolNotFound)
	assert.Empty(t, s.ListPools())

	err = s.RemovePool(ctx, "cache")
	assert.ErrorIs(t, err, pool.ErrPoolNotFound)
}

func TestService_SQLitePool(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	spec := config.PoolSpec{
		Name:           "local",
		Type:           string(pool.TypeSQLite),
		Driver:         config.DriverSQL,
		Endpoint:       config.EndpointSpec{SQLDriver: "sqlite3", DSN: ":memory:"},
		MaxConnections: 1,
		MinConnections: 1,
	}
	stats, err := s.CreatePool(spec)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Metrics.Total)

	stats, err = s.CheckHealth(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, pool.HealthHealthy, stats.HealthStatus)
	assert.Equal(t, int64(1), stats.Metrics.HealthCheckPassed)

	require.NoError(t, s.RemovePool(ctx, "local"))
}

func TestService_UpdatePool(t *testing.T) {
	s := newTestService(t, cacheSpec("cache"))

	maxConns := 4
	strategy := pool.StrategyWeighted
	cfg, err := s.UpdatePool("cache", pool.PoolConfigUpdate{MaxConnections: &maxConns, LoadBalancingStrategy: &strategy})
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxConnections)
	assert.Equal(t, pool.StrategyWeighted, cfg.LoadBalancingStrategy)

	minConns := 10
	_, err = s.UpdatePool("cache", pool.PoolConfigUpdate{MinConnections: &minConns})
	assert.ErrorIs(t, err, pool.ErrInvalidConfig)
}

func TestService_RecordBreaker(t *testing.T) {
	s := newTestService(t, cacheSpec("cache"))
	ctx := context.Background()

	require.NoError(t, s.RecordBreaker("cache", false))
	require.NoError(t, s.RecordBreaker("cache", false))

	stats, err := s.PoolStats("cache")
	require.NoError(t, err)
	assert.Equal(t, pool.BreakerOpen, stats.CircuitBreakerStatus)

	_, err = s.Acquire(ctx, "cache", 0, false)
	assert.ErrorIs(t, err, pool.ErrCircuitOpen)

	summary := s.HealthSummary()
	assert.False(t, summary.Healthy)
	assert.Contains(t, summary.Checks, Check{Name: "noOpenCircuitBreakers", Passed: false})

	assert.ErrorIs(t, s.RecordBreaker("missing", true), pool.ErrPoolNotFound)
}

func TestService_PoolHealth(t *testing.T) {
	now := time.Now()
	cfg := config.Default()
	cfg.Pools = []config.PoolSpec{cacheSpec("cache")}
	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close(context.Background())
	WithClock(func() time.Time { return now })(s)

	ctx := context.Background()
	_, err = s.CheckHealth(ctx, "cache")
	require.NoError(t, err)
	conn, err := s.Acquire(ctx, "cache", 0, false)
	require.NoError(t, err)
	defer s.Release("cache", conn.ID, false)

	h, err := s.PoolHealth("cache")
	require.NoError(t, err)
	assert.True(t, h.Healthy, "%+v", h.Checks)
	assert.Equal(t, 1, h.Active)

	_, err = s.PoolHealth("missing")
	assert.ErrorIs(t, err, pool.ErrPoolNotFound)
}

func TestService_Reap(t *testing.T) {
	s := newTestService(t, cacheSpec("cache"))

	// 连接都未过期
	assert.Equal(t, 0, s.Reap(context.Background()))
}

func TestService_Close(t *testing.T) {
	cfg := config.Default()
	cfg.Pools = []config.PoolSpec{cacheSpec("cache")}
	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	_, err = s.Acquire(context.Background(), "cache", 0, false)
	assert.ErrorIs(t, err, pool.ErrManagerStopped)
}
