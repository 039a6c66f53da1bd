package pool

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idleConns(n int) []*Connection {
	conns := make([]*Connection, n)
	for i := range conns {
		conns[i] = &Connection{
			ID:           string(rune('a' + i)),
			Status:       StatusIdle,
			HealthStatus: ConnectionHealthy,
		}
	}
	return conns
}

// N 个候选、K 次选择，每个候选被选中 ⌊K/N⌋ 或 ⌈K/N⌉ 次
func TestLoadBalancer_RoundRobinDistribution(t *testing.T) {
	lb := NewLoadBalancer(StrategyRoundRobin, nil)
	conns := idleConns(3)

	counts := make(map[int]int)
	const k = 10
	for i := 0; i < k; i++ {
		idx := lb.Select(conns)
		require.GreaterOrEqual(t, idx, 0)
		counts[idx]++
	}

	require.Len(t, counts, 3)
	for _, c := range counts {
		assert.True(t, c == k/3 || c == k/3+1, "unexpected count %d", c)
	}
}

func TestLoadBalancer_SkipsActiveAndUnhealthy(t *testing.T) {
	lb := NewLoadBalancer(StrategyRoundRobin, nil)
	conns := idleConns(3)
	conns[0].Status = StatusActive
	conns[1].HealthStatus = ConnectionUnhealthy

	for i := 0; i < 5; i++ {
		assert.Equal(t, 2, lb.Select(conns))
	}

	conns[2].Status = StatusActive
	assert.Equal(t, -1, lb.Select(conns))
	assert.Equal(t, -1, lb.Select(nil))
}

// least-connections 实际按 ErrorCount 选择，这里固定这一行为
func TestLoadBalancer_LeastConnectionsUsesErrorCount(t *testing.T) {
	lb := NewLoadBalancer(StrategyLeastConnections, nil)
	conns := idleConns(3)
	conns[0].ErrorCount = 2
	conns[1].ErrorCount = 0
	conns[2].ErrorCount = 1

	assert.Equal(t, 1, lb.Select(conns))
	// 选择是确定的，不会轮转
	assert.Equal(t, 1, lb.Select(conns))

	// 相同错误次数时取第一个
	conns[1].ErrorCount = 1
	assert.Equal(t, 1, lb.Select(conns))
}

func TestLoadBalancer_WeightedPrefersFastConnections(t *testing.T) {
	lb := NewLoadBalancer(StrategyWeighted, rand.New(rand.NewSource(1)))
	conns := idleConns(2)
	// 权重: 100-0+10-0 = 110 与 100-95+10-10 = 5
	conns[1].ResponseTime = 95 * time.Millisecond
	conns[1].ErrorCount = 10

	counts := make([]int, 2)
	for i := 0; i < 1000; i++ {
		counts[lb.Select(conns)]++
	}
	assert.Greater(t, counts[0], counts[1]*5)
	assert.Greater(t, counts[1], 0)
}

func TestLoadBalancer_WeightedZeroWeightFallsBackToFirst(t *testing.T) {
	lb := NewLoadBalancer(StrategyWeighted, rand.New(rand.NewSource(7)))
	conns := idleConns(3)
	for _, c := range conns {
		c.ResponseTime = 500 * time.Millisecond
		c.ErrorCount = 20
	}
	conns[0].Status = StatusActive

	for i := 0; i < 10; i++ {
		assert.Equal(t, 1, lb.Select(conns))
	}
}

func TestConnectionWeight(t *testing.T) {
	assert.Equal(t, 110.0, connectionWeight(&Connection{}))
	assert.Equal(t, 55.0, connectionWeight(&Connection{ResponseTime: 50 * time.Millisecond, ErrorCount: 5}))
	assert.Equal(t, 0.0, connectionWeight(&Connection{ResponseTime: time.Second, ErrorCount: 11}))
}

func TestLoadBalancer_StaticWeights(t *testing.T) {
	lb := NewLoadBalancer(StrategyWeighted, nil)
	lb.SetWeight("a", 2.5)
	w, ok := lb.Weight("a")
	assert.True(t, ok)
	assert.Equal(t, 2.5, w)

	lb.Forget("a")
	_, ok = lb.Weight("a")
	assert.False(t, ok)
}

func TestManager_LoadBalance(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreatePool("api", TypeHTTP, testConfig(WithMinConnections(3), WithStrategy(StrategyRoundRobin)), &mockDriver{})
	require.NoError(t, err)

	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		c, err := m.LoadBalance("api")
		require.NoError(t, err)
		// 选择不会借出连接
		assert.Equal(t, StatusIdle, c.Status)
		seen[c.ID]++
	}
	assert.Len(t, seen, 3)
	for _, n := range seen {
		assert.Equal(t, 2, n)
	}

	stats, _ := m.GetPoolStats("api")
	assert.Equal(t, int64(6), stats.Metrics.LoadBalanced)
	assert.Equal(t, 3, stats.Metrics.Idle)

	_, err = m.LoadBalance("missing")
	assert.ErrorIs(t, err, ErrPoolNotFound)
}

func TestManager_LoadBalanceNoCandidates(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreatePool("api", TypeHTTP, testConfig(WithMinConnections(1)), &mockDriver{})
	require.NoError(t, err)

	_, err = m.AcquireConnection(context.Background(), "api", 0)
	require.NoError(t, err)

	_, err = m.LoadBalance("api")
	assert.ErrorIs(t, err, ErrNoHealthyConnection)
}

func TestManager_AcquireBalanced(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreatePool("api", TypeHTTP, testConfig(WithMinConnections(2), WithStrategy(StrategyRoundRobin)), &mockDriver{})
	require.NoError(t, err)

	first, err := m.AcquireBalanced(context.Background(), "api", 0)
	require.NoError(t, err)
	require.NoError(t, m.ReleaseConnection("api", first.ID))

	second, err := m.AcquireBalanced(context.Background(), "api", 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, StatusActive, second.Status)

	stats, _ := m.GetPoolStats("api")
	assert.Equal(t, int64(2), stats.Metrics.LoadBalanced)
}
