package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyerfyer/connpool/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useConfig 写出只有一个小型模拟池的配置文件，并在测试结束时关闭共享服务
func useConfig(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poolctl.yaml")
	content := `
logging:
  level: error
  format: json
metrics:
  enabled: true
pools:
  - name: cache
    type: redis
    driver: simulated
    max_connections: 2
    min_connections: 1
    acquire_timeout: 50ms
    health_check_interval: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfgFile = path
	t.Cleanup(func() {
		shutdown()
		cfgFile = ""
		resetFlags(rootCmd)
	})
}

func TestConfigUpdateFromFlags(t *testing.T) {
	flags := updateCmd.Flags()
	t.Cleanup(func() { resetFlags(updateCmd) })

	update, err := configUpdateFromFlags(flags)
	require.NoError(t, err)
	assert.Equal(t, pool.PoolConfigUpdate{}, update)

	require.NoError(t, flags.Set("max", "8"))
	require.NoError(t, flags.Set("breaker-timeout", "45s"))
	require.NoError(t, flags.Set("strategy", "weighted"))
	require.NoError(t, flags.Set("enabled", "false"))

	update, err = configUpdateFromFlags(flags)
	require.NoError(t, err)
	require.NotNil(t, update.MaxConnections)
	assert.Equal(t, 8, *update.MaxConnections)
	require.NotNil(t, update.CircuitBreakerTimeout)
	assert.Equal(t, 45*time.Second, *update.CircuitBreakerTimeout)
	require.NotNil(t, update.LoadBalancingStrategy)
	assert.Equal(t, pool.StrategyWeighted, *update.LoadBalancingStrategy)
	require.NotNil(t, update.Enabled)
	assert.False(t, *update.Enabled)
	assert.Nil(t, update.MinConnections)

	require.NoError(t, flags.Set("strategy", "random"))
	_, err = configUpdateFromFlags(flags)
	assert.Error(t, err)
}

func TestResetFlags(t *testing.T) {
	require.NoError(t, acquireCmd.Flags().Set("count", "3"))
	require.NoError(t, releaseCmd.Flags().Set("error", "true"))

	resetFlags(rootCmd)

	count, _ := acquireCmd.Flags().GetInt("count")
	assert.Equal(t, 1, count)
	assert.False(t, acquireCmd.Flags().Changed("count"))
	failed, _ := releaseCmd.Flags().GetBool("error")
	assert.False(t, failed)
}

func TestGetPoolService(t *testing.T) {
	useConfig(t)

	svc, err := GetPoolService()
	require.NoError(t, err)
	again, err := GetPoolService()
	require.NoError(t, err)
	assert.Same(t, svc, again)

	pools := svc.ListPools()
	require.Len(t, pools, 1)
	assert.Equal(t, "cache", pools[0].Name)
	assert.Equal(t, 1, pools[0].Total)
	require.NotNil(t, exporter)

	shutdown()
	assert.Nil(t, poolSvc)
	assert.Nil(t, exporter)
}

func TestExecuteCommand_Session(t *testing.T) {
	useConfig(t)

	executeCommand("acquire cache --count 2")
	svc, err := GetPoolService()
	require.NoError(t, err)

	stats, err := svc.PoolStats("cache")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Metrics.Active)

	// 命令之间的参数不会残留
	count, _ := acquireCmd.Flags().GetInt("count")
	assert.Equal(t, 1, count)

	for _, c := range stats.Connections {
		executeCommand("release cache " + c.ID + " --error")
	}
	stats, err = svc.PoolStats("cache")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Metrics.Active)
	for _, c := range stats.Connections {
		assert.Equal(t, 1, c.ErrorCount)
	}

	executeCommand("update cache --max 4 --strategy least-connections")
	stats, err = svc.PoolStats("cache")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Config.MaxConnections)
	assert.Equal(t, pool.StrategyLeastConnections, stats.Config.LoadBalancingStrategy)

	executeCommand("breaker cache failure")
	stats, err = svc.PoolStats("cache")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CircuitBreaker.Failures)

	executeCommand("create extra --type postgres --max 3 --min 1")
	_, err = svc.PoolStats("extra")
	require.NoError(t, err)

	executeCommand("remove extra")
	_, err = svc.PoolStats("extra")
	assert.ErrorIs(t, err, pool.ErrPoolNotFound)

	executeCommand(`metrics`)
	points, err := exporter.Collect(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, points)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "poolctl.yaml")

	executeCommand("config init " + path)
	_, err := os.Stat(path)
	require.NoError(t, err)

	// 文件已存在且没有 --force 时不覆盖
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	executeCommand("config init " + path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	executeCommand("config init --force " + path)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "postgres")
}
