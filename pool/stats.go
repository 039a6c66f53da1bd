package pool

import "time"

// Metrics 是单个连接池的计数器和滑动平均值
type Metrics struct {
	// Total 是池中连接总数，始终等于连接切片长度
	Total int `json:"total"`
	// Active 是被借出的连接数
	Active int `json:"active"`
	// Idle 是空闲连接数
	Idle int `json:"idle"`
	// Waiting 是当前阻塞在获取连接上的调用者数量
	Waiting int `json:"waiting"`

	Created            int64 `json:"created"`
	Destroyed          int64 `json:"destroyed"`
	Failed             int64 `json:"failed"`
	HealthCheckPassed  int64 `json:"healthCheckPassed"`
	HealthCheckFailed  int64 `json:"healthCheckFailed"`
	CircuitBreakerOpen int64 `json:"circuitBreakerOpen"`
	LoadBalanced       int64 `json:"loadBalanced"`

	// AvgAcquireTime 按 (旧值+新值)/2 更新
	AvgAcquireTime time.Duration `json:"avgAcquireTime"`
	// AvgResponseTime 按 (旧值+新值)/2 更新，取自健康检查的探测延迟
	AvgResponseTime time.Duration `json:"avgResponseTime"`
}

// PoolStats 是连接池的只读快照
type PoolStats struct {
	Name                 string          `json:"name"`
	Type                 ConnectionType  `json:"type"`
	Config               PoolConfig      `json:"config"`
	Connections          []Connection    `json:"connections"`
	Metrics              Metrics         `json:"metrics"`
	HealthStatus         HealthStatus    `json:"healthStatus"`
	LastHealthCheck      time.Time       `json:"lastHealthCheck"`
	CircuitBreakerStatus BreakerState    `json:"circuitBreakerStatus"`
	CircuitBreaker       BreakerSnapshot `json:"circuitBreaker"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// UtilizationRate 返回借出连接数占最大连接数的比例
func (s PoolStats) UtilizationRate() float64 {
	if s.Config.MaxConnections == 0 {
		return 0
	}
	return float64(s.Metrics.Active) / float64(s.Config.MaxConnections)
}

// HealthCheckPassRate 返回健康检查通过率，没有检查记录时为 0
func (s PoolStats) HealthCheckPassRate() float64 {
	total := s.Metrics.HealthCheckPassed + s.Metrics.HealthCheckFailed
	if total == 0 {
		return 0
	}
	return float64(s.Metrics.HealthCheckPassed) / float64(total)
}

// FailureRate 返回失败次数占 (创建+失败) 的比例
func (s PoolStats) FailureRate() float64 {
	total := s.Metrics.Created + s.Metrics.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Metrics.Failed) / float64(total)
}

// classifyHealth 按健康比例划分池的健康状态，没有连接时视为 1.0
func classifyHealth(healthy, total int) HealthStatus {
	ratio := 1.0
	if total > 0 {
		ratio = float64(healthy) / float64(total)
	}
	switch {
	case ratio >= 0.8:
		return HealthHealthy
	case ratio >= 0.5:
		return HealthDegraded
	default:
		return HealthCritical
	}
}

func avgDuration(old, sample time.Duration) time.Duration {
	return (old + sample) / 2
}
