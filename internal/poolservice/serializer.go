package poolservice

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyerfyer/connpool/pool"
)

// FormatPoolInfo 返回连接池概要的格式化字符串表示
func FormatPoolInfo(info PoolInfo) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Pool: %s\n", info.Name))
	sb.WriteString(fmt.Sprintf("Type: %s (driver: %s)\n", info.Type, info.Driver))
	if !info.Enabled {
		sb.WriteString("Enabled: false\n")
	}
	sb.WriteString(fmt.Sprintf("Connections: %d/%d (%d active, %d idle)\n",
		info.Total, info.Max, info.Active, info.Idle))
	sb.WriteString(fmt.Sprintf("Health: %s, circuit breaker %s\n", info.HealthStatus, info.CircuitBreaker))
	sb.WriteString(fmt.Sprintf("Created: %s\n", formatTimeAgo(info.CreatedAt)))

	return sb.String()
}

// FormatPoolStats 返回连接池快照的格式化字符串表示
func FormatPoolStats(stats pool.PoolStats) string {
	var sb strings.Builder
	m := stats.Metrics

	sb.WriteString(fmt.Sprintf("Pool: %s (%s)\n", stats.Name, stats.Type))
	sb.WriteString(fmt.Sprintf("Connections: %d total, %d active, %d idle, %d waiting\n",
		m.Total, m.Active, m.Idle, m.Waiting))
	sb.WriteString(fmt.Sprintf("Capacity: %d-%d (%.1f%% utilized)\n",
		stats.Config.MinConnections, stats.Config.MaxConnections, stats.UtilizationRate()*100))
	sb.WriteString(fmt.Sprintf("Strategy: %s\n", stats.Config.LoadBalancingStrategy))
	sb.WriteString(fmt.Sprintf("Health: %s", stats.HealthStatus))
	if !stats.LastHealthCheck.IsZero() {
		sb.WriteString(fmt.Sprintf(" (checked %s)", formatTimeAgo(stats.LastHealthCheck)))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("Operations: %d created, %d destroyed, %d failed (%.1f%% failure rate)\n",
		m.Created, m.Destroyed, m.Failed, stats.FailureRate()*100))

	if m.HealthCheckPassed > 0 || m.HealthCheckFailed > 0 {
		sb.WriteString(fmt.Sprintf("Health checks: %d passed, %d failed (%.1f%% pass rate)\n",
			m.HealthCheckPassed, m.HealthCheckFailed, stats.HealthCheckPassRate()*100))
	}

	sb.WriteString(fmt.Sprintf("Circuit breaker: %s", stats.CircuitBreakerStatus))
	if m.CircuitBreakerOpen > 0 {
		sb.WriteString(fmt.Sprintf(" (opened %d times)", m.CircuitBreakerOpen))
	}
	sb.WriteString("\n")

	if m.LoadBalanced > 0 {
		sb.WriteString(fmt.Sprintf("Load balanced: %d\n", m.LoadBalanced))
	}
	if m.AvgAcquireTime > 0 || m.AvgResponseTime > 0 {
		sb.WriteString(fmt.Sprintf("Latency: acquire %s, response %s\n",
			m.AvgAcquireTime.Round(time.Microsecond), m.AvgResponseTime.Round(time.Microsecond)))
	}

	return sb.String()
}

// FormatConnection 返回单个连接的一行摘要
func FormatConnection(c pool.Connection) string {
	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	if c.Database != "" {
		addr += "/" + c.Database
	}
	return fmt.Sprintf("%s  %-6s %-9s %s  errors=%d  rt=%s  last used %s",
		c.ID, c.Status, c.HealthStatus, addr, c.ErrorCount,
		c.ResponseTime.Round(time.Microsecond), formatTimeAgo(c.LastUsed))
}

// FormatPoolHealth 返回单个连接池健康评估的格式化字符串表示
func FormatPoolHealth(h PoolHealth) string {
	var sb strings.Builder

	status := "healthy"
	if !h.Healthy {
		status = "degraded"
	}
	sb.WriteString(fmt.Sprintf("Pool %s: %s (pool status %s, circuit breaker %s)\n",
		h.Name, status, h.Status, h.CircuitBreakerStatus))
	writeChecks(&sb, h.Checks)

	return sb.String()
}

// FormatHealthSummary 返回健康汇总的格式化字符串表示
func FormatHealthSummary(h HealthSummary) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Status: %s\n", h.Status()))
	writeChecks(&sb, h.Checks)
	sb.WriteString(fmt.Sprintf("Pools: %d total, %d healthy, %d degraded, %d critical\n",
		h.TotalPools, h.HealthyPools, h.DegradedPools, h.CriticalPools))
	sb.WriteString(fmt.Sprintf("Connections: %d total, %d active\n", h.TotalConnections, h.TotalActive))

	for _, p := range h.Pools {
		sb.WriteString(fmt.Sprintf("  %-12s %-9s breaker=%-9s connections=%d active=%d\n",
			p.Name, p.Status, p.CircuitBreakerStatus, p.Connections, p.Active))
	}

	return sb.String()
}

func writeChecks(sb *strings.Builder, checks []Check) {
	for _, c := range checks {
		mark := "ok"
		if !c.Passed {
			mark = "FAIL"
		}
		sb.WriteString(fmt.Sprintf("  [%s] %s\n", mark, c.Name))
	}
}

// SerializeStats 将快照序列化为缩进的 JSON
func SerializeStats(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// formatTimeAgo 将时间格式化为人类可读的"多久之前"字符串
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	duration := time.Since(t)

	seconds := int(duration.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%d seconds ago", seconds)
	}

	minutes := int(duration.Minutes())
	if minutes < 60 {
		return fmt.Sprintf("%d minutes ago", minutes)
	}

	hours := int(duration.Hours())
	if hours < 24 {
		return fmt.Sprintf("%d hours ago", hours)
	}

	days := int(duration.Hours() / 24)
	return fmt.Sprintf("%d days ago", days)
}
