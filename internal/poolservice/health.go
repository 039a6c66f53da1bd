package poolservice

import (
	"sort"
	"time"

	"github.com/fyerfyer/connpool/pool"
)

const (
	// poolCheckWindow 内没有健康检查的池视为检查过期
	poolCheckWindow = time.Minute
	// globalCheckWindow 是全局汇总使用的检查窗口
	globalCheckWindow = 2 * time.Minute
	// maxFailureRate 是失败次数与创建次数之比的上限
	maxFailureRate = 0.1
)

// Check 是一个命名的检查项
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// PoolHealth 是单个连接池的健康评估
type PoolHealth struct {
	Name                 string              `json:"name"`
	Type                 pool.ConnectionType `json:"type"`
	Healthy              bool                `json:"healthy"`
	Status               pool.HealthStatus   `json:"status"`
	CircuitBreakerStatus pool.BreakerState   `json:"circuitBreakerStatus"`
	Connections          int                 `json:"connections"`
	Active               int                 `json:"active"`
	LastHealthCheck      time.Time           `json:"lastHealthCheck"`
	Checks               []Check             `json:"checks"`
}

// HealthSummary 是所有连接池的健康汇总
type HealthSummary struct {
	Healthy bool         `json:"healthy"`
	Checks  []Check      `json:"checks"`
	Pools   []PoolHealth `json:"pools"`

	TotalPools       int `json:"totalPools"`
	HealthyPools     int `json:"healthyPools"`
	DegradedPools    int `json:"degradedPools"`
	CriticalPools    int `json:"criticalPools"`
	TotalConnections int `json:"totalConnections"`
	TotalActive      int `json:"totalActive"`
}

// Status 返回整体状态，任一检查项未通过即为 degraded
func (h HealthSummary) Status() pool.HealthStatus {
	if h.Healthy {
		return pool.HealthHealthy
	}
	return pool.HealthDegraded
}

func allPassed(checks []Check) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// EvaluatePool 评估单个连接池。Status 沿用池自身的分级，Healthy 要求所有检查项通过。
func EvaluatePool(stats pool.PoolStats, now time.Time) PoolHealth {
	hasHealthy := false
	for _, c := range stats.Connections {
		if c.HealthStatus == pool.ConnectionHealthy {
			hasHealthy = true
			break
		}
	}

	lowFailureRate := true
	if stats.Metrics.Created > 0 {
		lowFailureRate = float64(stats.Metrics.Failed)/float64(stats.Metrics.Created) < maxFailureRate
	}

	checks := []Check{
		{Name: "hasConnections", Passed: len(stats.Connections) > 0},
		{Name: "hasHealthyConnections", Passed: hasHealthy},
		{Name: "circuitBreakerClosed", Passed: stats.CircuitBreakerStatus == pool.BreakerClosed},
		{Name: "recentHealthCheck", Passed: recent(stats.LastHealthCheck, now, poolCheckWindow)},
		{Name: "hasActiveConnections", Passed: stats.Metrics.Active > 0},
		{Name: "lowFailureRate", Passed: lowFailureRate},
	}

	return PoolHealth{
		Name:                 stats.Name,
		Type:                 stats.Type,
		Healthy:              allPassed(checks),
		Status:               stats.HealthStatus,
		CircuitBreakerStatus: stats.CircuitBreakerStatus,
		Connections:          len(stats.Connections),
		Active:               stats.Metrics.Active,
		LastHealthCheck:      stats.LastHealthCheck,
		Checks:               checks,
	}
}

// Summarize 汇总所有连接池，池按名称排序
func Summarize(stats map[string]pool.PoolStats, now time.Time) HealthSummary {
	var summary HealthSummary

	hasHealthyPool := false
	noCritical := true
	noOpenBreaker := true
	hasActive := false
	recentChecks := true

	for _, st := range stats {
		ph := EvaluatePool(st, now)
		summary.Pools = append(summary.Pools, ph)

		switch st.HealthStatus {
		case pool.HealthHealthy:
			summary.HealthyPools++
			hasHealthyPool = true
		case pool.HealthDegraded:
			summary.DegradedPools++
		case pool.HealthCritical:
			summary.CriticalPools++
			noCritical = false
		}
		if st.CircuitBreakerStatus == pool.BreakerOpen {
			noOpenBreaker = false
		}
		if st.Metrics.Active > 0 {
			hasActive = true
		}
		if !recent(st.LastHealthCheck, now, globalCheckWindow) {
			recentChecks = false
		}
		summary.TotalConnections += len(st.Connections)
		summary.TotalActive += st.Metrics.Active
	}
	sort.Slice(summary.Pools, func(i, j int) bool {
		return summary.Pools[i].Name < summary.Pools[j].Name
	})

	summary.TotalPools = len(stats)
	summary.Checks = []Check{
		{Name: "hasPools", Passed: len(stats) > 0},
		{Name: "hasHealthyPools", Passed: hasHealthyPool},
		{Name: "noCriticalPools", Passed: noCritical},
		{Name: "noOpenCircuitBreakers", Passed: noOpenBreaker},
		{Name: "hasActiveConnections", Passed: hasActive},
		{Name: "recentHealthChecks", Passed: recentChecks},
	}
	summary.Healthy = allPassed(summary.Checks)
	return summary
}

func recent(t, now time.Time, window time.Duration) bool {
	return !t.IsZero() && now.Sub(t) < window
}
