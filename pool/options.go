package pool

import (
	"fmt"
	"time"
)

// Strategy 是负载均衡策略
type Strategy string

const (
	// StrategyRoundRobin 轮询选择
	StrategyRoundRobin Strategy = "round-robin"
	// StrategyLeastConnections 选择错误次数最少的连接（沿用原有命名）
	StrategyLeastConnections Strategy = "least-connections"
	// StrategyWeighted 按实时指标计算权重后随机选择
	StrategyWeighted Strategy = "weighted"
)

// Valid 检查策略是否为已知取值
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastConnections, StrategyWeighted:
		return true
	}
	return false
}

// PoolConfig 定义单个连接池的配置
type PoolConfig struct {
	// Enabled 为 false 时拒绝获取连接
	Enabled bool `json:"enabled"`

	// MaxConnections 是池中连接总数的上限，包括空闲和使用中的连接
	MaxConnections int `json:"maxConnections"`

	// MinConnections 是池的最小连接数，创建时预先建立，健康检查负责补齐
	MinConnections int `json:"minConnections"`

	// IdleTimeout 是连接保持未使用状态的最长时间
	IdleTimeout time.Duration `json:"idleTimeout"`

	// ConnectionTimeout 是拨号新连接的超时时间
	ConnectionTimeout time.Duration `json:"connectionTimeout"`

	// AcquireTimeout 是获取连接时等待的默认最长时间
	AcquireTimeout time.Duration `json:"acquireTimeout"`

	// HealthCheckInterval 是健康检查的执行频率
	HealthCheckInterval time.Duration `json:"healthCheckInterval"`

	// RetryAttempts 是连接允许的错误次数，超过后归还时销毁；也是补齐连接时的重试次数
	RetryAttempts int `json:"retryAttempts"`

	// RetryDelay 是补齐连接失败后的重试间隔
	RetryDelay time.Duration `json:"retryDelay"`

	// CircuitBreakerThreshold 是熔断器打开所需的失败次数
	CircuitBreakerThreshold int `json:"circuitBreakerThreshold"`

	// CircuitBreakerTimeout 是熔断器打开后到允许再次尝试的冷却时间
	CircuitBreakerTimeout time.Duration `json:"circuitBreakerTimeout"`

	// LoadBalancingStrategy 是负载均衡策略
	LoadBalancingStrategy Strategy `json:"loadBalancingStrategy"`

	// DialRate 是每秒允许的拨号次数，为 0 表示不限制
	DialRate float64 `json:"dialRate,omitempty"`

	// DialBurst 是拨号限流的突发容量
	DialBurst int `json:"dialBurst,omitempty"`
}

// DefaultPoolConfig 返回默认的连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Enabled:                 true,
		MaxConnections:          10,
		MinConnections:          2,
		IdleTimeout:             5 * time.Minute,
		ConnectionTimeout:       10 * time.Second,
		AcquireTimeout:          5 * time.Second,
		HealthCheckInterval:     30 * time.Second,
		RetryAttempts:           3,
		RetryDelay:              time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   time.Minute,
		LoadBalancingStrategy:   StrategyRoundRobin,
	}
}

// NewPoolConfig 基于默认配置应用选项
func NewPoolConfig(options ...Option) PoolConfig {
	cfg := DefaultPoolConfig()
	for _, option := range options {
		option(&cfg)
	}
	return cfg
}

// Validate 检查配置是否合法
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxConnections <= 0:
		return fmt.Errorf("%w: maxConnections must be positive, got %d", ErrInvalidConfig, c.MaxConnections)
	case c.MinConnections < 0:
		return fmt.Errorf("%w: minConnections must not be negative, got %d", ErrInvalidConfig, c.MinConnections)
	case c.MinConnections > c.MaxConnections:
		return fmt.Errorf("%w: minConnections (%d) exceeds maxConnections (%d)", ErrInvalidConfig, c.MinConnections, c.MaxConnections)
	case c.IdleTimeout <= 0, c.ConnectionTimeout <= 0, c.AcquireTimeout <= 0, c.HealthCheckInterval <= 0:
		return fmt.Errorf("%w: timeouts and intervals must be positive", ErrInvalidConfig)
	case c.RetryAttempts < 0 || c.RetryDelay < 0:
		return fmt.Errorf("%w: retry settings must not be negative", ErrInvalidConfig)
	case c.CircuitBreakerThreshold <= 0 || c.CircuitBreakerTimeout <= 0:
		return fmt.Errorf("%w: circuit breaker threshold and timeout must be positive", ErrInvalidConfig)
	case !c.LoadBalancingStrategy.Valid():
		return fmt.Errorf("%w: unknown load balancing strategy %q", ErrInvalidConfig, c.LoadBalancingStrategy)
	case c.DialRate < 0:
		return fmt.Errorf("%w: dialRate must not be negative", ErrInvalidConfig)
	case c.DialRate > 0 && c.DialBurst < 1:
		return fmt.Errorf("%w: dialBurst must be at least 1 when dialRate is set", ErrInvalidConfig)
	}
	return nil
}

// Option 是用于配置连接池的函数类型
type Option func(*PoolConfig)

// WithEnabled 设置是否启用
func WithEnabled(enabled bool) Option {
	return func(c *PoolConfig) {
		c.Enabled = enabled
	}
}

// WithMaxConnections 设置最大连接数
func WithMaxConnections(n int) Option {
	return func(c *PoolConfig) {
		c.MaxConnections = n
	}
}

// WithMinConnections 设置最小连接数
func WithMinConnections(n int) Option {
	return func(c *PoolConfig) {
		c.MinConnections = n
	}
}

// WithIdleTimeout 设置空闲超时
func WithIdleTimeout(d time.Duration) Option {
	return func(c *PoolConfig) {
		c.IdleTimeout = d
	}
}

// WithConnectionTimeout 设置拨号超时
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *PoolConfig) {
		c.ConnectionTimeout = d
	}
}

// WithAcquireTimeout 设置获取连接的等待超时
func WithAcquireTimeout(d time.Duration) Option {
	return func(c *PoolConfig) {
		c.AcquireTimeout = d
	}
}

// WithHealthCheckInterval 设置健康检查频率
func WithHealthCheckInterval(d time.Duration) Option {
	return func(c *PoolConfig) {
		c.HealthCheckInterval = d
	}
}

// WithRetry 设置重试次数和重试间隔
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *PoolConfig) {
		c.RetryAttempts = attempts
		c.RetryDelay = delay
	}
}

// WithCircuitBreaker 设置熔断阈值和冷却时间
func WithCircuitBreaker(threshold int, timeout time.Duration) Option {
	return func(c *PoolConfig) {
		c.CircuitBreakerThreshold = threshold
		c.CircuitBreakerTimeout = timeout
	}
}

// WithStrategy 设置负载均衡策略
func WithStrategy(s Strategy) Option {
	return func(c *PoolConfig) {
		c.LoadBalancingStrategy = s
	}
}

// WithDialRate 设置拨号限流
func WithDialRate(perSecond float64, burst int) Option {
	return func(c *PoolConfig) {
		c.DialRate = perSecond
		c.DialBurst = burst
	}
}

// PoolConfigUpdate 描述对连接池配置的部分更新，nil 字段保持不变
type PoolConfigUpdate struct {
	Enabled                 *bool
	MaxConnections          *int
	MinConnections          *int
	IdleTimeout             *time.Duration
	ConnectionTimeout       *time.Duration
	AcquireTimeout          *time.Duration
	HealthCheckInterval     *time.Duration
	RetryAttempts           *int
	RetryDelay              *time.Duration
	CircuitBreakerThreshold *int
	CircuitBreakerTimeout   *time.Duration
	LoadBalancingStrategy   *Strategy
	DialRate                *float64
	DialBurst               *int
}

// Apply 返回合并更新后的新配置
func (u PoolConfigUpdate) Apply(c PoolConfig) PoolConfig {
	if u.Enabled != nil {
		c.Enabled = *u.Enabled
	}
	if u.MaxConnections != nil {
		c.MaxConnections = *u.MaxConnections
	}
	if u.MinConnections != nil {
		c.MinConnections = *u.MinConnections
	}
	if u.IdleTimeout != nil {
		c.IdleTimeout = *u.IdleTimeout
	}
	if u.ConnectionTimeout != nil {
		c.ConnectionTimeout = *u.ConnectionTimeout
	}
	if u.AcquireTimeout != nil {
		c.AcquireTimeout = *u.AcquireTimeout
	}
	if u.HealthCheckInterval != nil {
		c.HealthCheckInterval = *u.HealthCheckInterval
	}
	if u.RetryAttempts != nil {
		c.RetryAttempts = *u.RetryAttempts
	}
	if u.RetryDelay != nil {
		c.RetryDelay = *u.RetryDelay
	}
	if u.CircuitBreakerThreshold != nil {
		c.CircuitBreakerThreshold = *u.CircuitBreakerThreshold
	}
	if u.CircuitBreakerTimeout != nil {
		c.CircuitBreakerTimeout = *u.CircuitBreakerTimeout
	}
	if u.LoadBalancingStrategy != nil {
		c.LoadBalancingStrategy = *u.LoadBalancingStrategy
	}
	if u.DialRate != nil {
		c.DialRate = *u.DialRate
	}
	if u.DialBurst != nil {
		c.DialBurst = *u.DialBurst
	}
	return c
}
