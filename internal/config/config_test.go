package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyerfyer/connpool/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir 切换工作目录，避免读到仓库里的配置文件
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Pools, 3)

	pg, ok := cfg.Pool("postgres")
	require.True(t, ok)
	pc, err := pg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, 20, pc.MaxConnections)
	assert.Equal(t, 5, pc.MinConnections)
	assert.Equal(t, 5*time.Minute, pc.IdleTimeout)
	assert.Equal(t, pool.StrategyLeastConnections, pc.LoadBalancingStrategy)

	redis, _ := cfg.Pool("redis")
	pc, err = redis.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, pc.RetryDelay)
	assert.Equal(t, 3, pc.CircuitBreakerThreshold)

	httpPool, _ := cfg.Pool("http")
	pc, err = httpPool.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, pc.CircuitBreakerTimeout)
	assert.Equal(t, pool.StrategyWeighted, pc.LoadBalancingStrategy)

	_, ok = cfg.Pool("missing")
	assert.False(t, ok)
}

func TestPoolSpec_PoolConfig(t *testing.T) {
	disabled := false
	spec := PoolSpec{
		Name:           "cache",
		Driver:         DriverSimulated,
		Enabled:        &disabled,
		MaxConnections: 4,
		AcquireTimeout: "250ms",
	}
	cfg, err := spec.PoolConfig()
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 4, cfg.MaxConnections)
	assert.Equal(t, 250*time.Millisecond, cfg.AcquireTimeout)
	// 未设置的字段沿用默认值
	assert.Equal(t, pool.DefaultPoolConfig().IdleTimeout, cfg.IdleTimeout)

	spec.IdleTimeout = "soon"
	_, err = spec.PoolConfig()
	assert.Error(t, err)

	spec.IdleTimeout = ""
	spec.MinConnections = 10
	_, err = spec.PoolConfig()
	assert.ErrorIs(t, err, pool.ErrInvalidConfig)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poolctl.yaml")
	content := `
logging:
  level: debug
  format: json
monitor:
  interval: 5s
pools:
  - name: cache
    type: redis
    driver: redis
    endpoint:
      addr: localhost:6380
    max_connections: 8
    min_connections: 1
    acquire_timeout: 1s
    load_balancing_strategy: round-robin
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	interval, err := cfg.MonitorInterval()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, interval)

	// 文件中的连接池列表替换默认列表
	require.Len(t, cfg.Pools, 1)
	spec := cfg.Pools[0]
	assert.Equal(t, "cache", spec.Name)
	assert.Equal(t, DriverRedis, spec.Driver)
	assert.Equal(t, "localhost:6380", spec.Endpoint.Addr)

	pc, err := spec.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, 8, pc.MaxConnections)
	assert.Equal(t, time.Second, pc.AcquireTimeout)
	assert.True(t, pc.Enabled)
}

func TestLoad_EnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONNPOOL_LOGGING_LEVEL", "warn")
	t.Setenv("CONNPOOL_MONITOR_INTERVAL", "10s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "10s", cfg.Monitor.Interval)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	testCases := []struct {
		name    string
		content string
	}{
		{"bad format", "logging:\n  format: xml\n"},
		{"bad interval", "monitor:\n  interval: never\n"},
		{"unknown driver", "pools:\n  - name: a\n    driver: mongo\n"},
		{"duplicate pool", "pools:\n  - name: a\n    driver: simulated\n  - name: a\n    driver: simulated\n"},
		{"empty name", "pools:\n  - driver: simulated\n"},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad"+string(rune('a'+i))+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "poolctl.yaml")
	require.NoError(t, Write(path, Default()))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
