// Package poolservice 是 poolctl 使用的服务层：按配置构造驱动和连接池，并汇总健康状况
package poolservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyerfyer/connpool/internal/config"
	"github.com/fyerfyer/connpool/pool"
	"github.com/rs/zerolog"
)

// PoolInfo 包含连接池的概要信息
type PoolInfo struct {
	// 连接池名称
	Name string `json:"name"`
	// 后端类型
	Type pool.ConnectionType `json:"type"`
	// 驱动类型
	Driver string `json:"driver"`
	// 是否启用
	Enabled bool `json:"enabled"`
	// 健康状态
	HealthStatus pool.HealthStatus `json:"healthStatus"`
	// 熔断器状态
	CircuitBreaker pool.BreakerState `json:"circuitBreaker"`
	// 连接计数
	Total  int `json:"total"`
	Active int `json:"active"`
	Idle   int `json:"idle"`
	Max    int `json:"max"`
	// 创建时间
	CreatedAt time.Time `json:"createdAt"`
}

// Service 定义连接池服务接口
type Service interface {
	// CreatePool 按 PoolSpec 构造驱动并注册连接池
	CreatePool(spec config.PoolSpec) (pool.PoolStats, error)

	// ListPools 列出所有连接池，按名称排序
	ListPools() []PoolInfo

	// RemovePool 删除连接池并关闭它的连接
	RemovePool(ctx context.Context, name string) error

	// Acquire 借出连接，balanced 为 true 时通过负载均衡选择
	Acquire(ctx context.Context, name string, timeout time.Duration, balanced bool) (pool.Connection, error)

	// Release 归还连接，failed 为 true 时记为一次使用错误
	Release(name, connectionID string, failed bool) error

	// Balance 返回负载均衡选中的空闲连接，但不借出
	Balance(name string) (pool.Connection, error)

	// PoolStats 获取连接池快照
	PoolStats(name string) (pool.PoolStats, error)

	// AllStats 获取所有连接池快照
	AllStats() map[string]pool.PoolStats

	// CheckHealth 立即执行一次健康检查
	CheckHealth(ctx context.Context, name string) (pool.PoolStats, error)

	// PoolHealth 汇总单个连接池的健康检查项
	PoolHealth(name string) (PoolHealth, error)

	// HealthSummary 汇总所有连接池的健康状况
	HealthSummary() HealthSummary

	// UpdatePool 部分更新连接池配置
	UpdatePool(name string, update pool.PoolConfigUpdate) (pool.PoolConfig, error)

	// RecordBreaker 向熔断器上报一次成功或失败
	RecordBreaker(name string, success bool) error

	// Reap 回收所有池中的过期连接，返回回收数量
	Reap(ctx context.Context) int

	// Close 停止管理器并释放驱动持有的资源
	Close(ctx context.Context) error
}

// ManagerService 基于 pool.Manager 实现 Service
type ManagerService struct {
	manager *pool.Manager
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	drivers map[string]string
	closers map[string]shutdowner
}

// Option 配置 ManagerService
type Option func(*ManagerService)

// WithLogger 设置服务日志，同时传给管理器
func WithLogger(logger zerolog.Logger) Option {
	return func(s *ManagerService) {
		s.logger = logger
	}
}

// WithClock 设置健康汇总使用的时间来源
func WithClock(now func() time.Time) Option {
	return func(s *ManagerService) {
		s.now = now
	}
}

// NewManagerService 包装已有的管理器
func NewManagerService(m *pool.Manager, options ...Option) *ManagerService {
	s := &ManagerService{
		manager: m,
		logger:  zerolog.Nop(),
		now:     time.Now,
		drivers: make(map[string]string),
		closers: make(map[string]shutdowner),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// New 按配置创建管理器、注册所有连接池并启动后台监控。
// 任一连接池创建失败时已创建的资源会被释放。
func New(cfg *config.Config, logger zerolog.Logger, managerOptions ...pool.ManagerOption) (*ManagerService, error) {
	interval, err := cfg.MonitorInterval()
	if err != nil {
		return nil, err
	}

	opts := append([]pool.ManagerOption{
		pool.WithLogger(logger),
		pool.WithMonitorInterval(interval),
	}, managerOptions...)
	s := NewManagerService(pool.NewManager(opts...), WithLogger(logger))

	for _, spec := range cfg.Pools {
		if _, err := s.CreatePool(spec); err != nil {
			_ = s.Close(context.Background())
			return nil, fmt.Errorf("failed to create pool %s: %w", spec.Name, err)
		}
	}

	if err := s.manager.Start(); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

// Manager 返回底层管理器，供 adapters 中按类型取用连接的辅助函数使用
func (s *ManagerService) Manager() *pool.Manager {
	return s.manager
}

// CreatePool 按 PoolSpec 构造驱动并注册连接池
func (s *ManagerService) CreatePool(spec config.PoolSpec) (pool.PoolStats, error) {
	cfg, err := spec.PoolConfig()
	if err != nil {
		return pool.PoolStats{}, err
	}
	if spec.Type == "" {
		spec.Type = string(pool.TypeExternal)
	}
	if spec.Driver == "" {
		spec.Driver = config.DriverSimulated
	}

	driver, err := NewDriver(spec)
	if err != nil {
		return pool.PoolStats{}, err
	}

	stats, err := s.manager.CreatePool(spec.Name, pool.ConnectionType(spec.Type), cfg, driver)
	if err != nil {
		if sd, ok := driver.(shutdowner); ok {
			_ = sd.Shutdown()
		}
		return pool.PoolStats{}, err
	}

	s.mu.Lock()
	s.drivers[spec.Name] = spec.Driver
	if sd, ok := driver.(shutdowner); ok {
		s.closers[spec.Name] = sd
	}
	s.mu.Unlock()

	return stats, nil
}

// ListPools 列出所有连接池，按名称排序
func (s *ManagerService) ListPools() []PoolInfo {
	stats := s.manager.GetStats()

	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]PoolInfo, 0, len(stats))
	for name, st := range stats {
		result = append(result, PoolInfo{
			Name:           name,
			Type:           st.Type,
			Driver:         s.drivers[name],
			Enabled:        st.Config.Enabled,
			HealthStatus:   st.HealthStatus,
			CircuitBreaker: st.CircuitBreakerStatus,
			Total:          st.Metrics.Total,
			Active:         st.Metrics.Active,
			Idle:           st.Metrics.Idle,
			Max:            st.Config.MaxConnections,
			CreatedAt:      st.CreatedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// RemovePool 删除连接池并关闭它的连接
func (s *ManagerService) RemovePool(ctx context.Context, name string) error {
	if err := s.manager.RemovePool(ctx, name); err != nil {
		return err
	}

	s.mu.Lock()
	closer := s.closers[name]
	delete(s.closers, name)
	delete(s.drivers, name)
	s.mu.Unlock()

	if closer != nil {
		if err := closer.Shutdown(); err != nil {
			s.logger.Warn().Err(err).Str("pool", name).Msg("failed to shut down driver")
		}
	}
	return nil
}

// Acquire 借出连接
func (s *ManagerService) Acquire(ctx context.Context, name string, timeout time.Duration, balanced bool) (pool.Connection, error) {
	if balanced {
		return s.manager.AcquireBalanced(ctx, name, timeout)
	}
	return s.manager.AcquireConnection(ctx, name, timeout)
}

// Release 归还连接
func (s *ManagerService) Release(name, connectionID string, failed bool) error {
	if failed {
		return s.manager.ReleaseWithError(name, connectionID, errors.New("released with error"))
	}
	return s.manager.ReleaseConnection(name, connectionID)
}

// Balance 返回负载均衡选中的空闲连接
func (s *ManagerService) Balance(name string) (pool.Connection, error) {
	return s.manager.LoadBalance(name)
}

// PoolStats 获取连接池快照
func (s *ManagerService) PoolStats(name string) (pool.PoolStats, error) {
	return s.manager.GetPoolStats(name)
}

// AllStats 获取所有连接池快照
func (s *ManagerService) AllStats() map[string]pool.PoolStats {
	return s.manager.GetStats()
}

// CheckHealth 立即执行一次健康检查
func (s *ManagerService) CheckHealth(ctx context.Context, name string) (pool.PoolStats, error) {
	return s.manager.CheckHealth(ctx, name)
}

// PoolHealth 汇总单个连接池的健康检查项
func (s *ManagerService) PoolHealth(name string) (PoolHealth, error) {
	stats, err := s.manager.GetPoolStats(name)
	if err != nil {
		return PoolHealth{}, err
	}
	return EvaluatePool(stats, s.now()), nil
}

// HealthSummary 汇总所有连接池的健康状况
func (s *ManagerService) HealthSummary() HealthSummary {
	return Summarize(s.manager.GetStats(), s.now())
}

// UpdatePool 部分更新连接池配置
func (s *ManagerService) UpdatePool(name string, update pool.PoolConfigUpdate) (pool.PoolConfig, error) {
	return s.manager.UpdatePoolConfig(name, update)
}

// RecordBreaker 向熔断器上报一次成功或失败
func (s *ManagerService) RecordBreaker(name string, success bool) error {
	if success {
		return s.manager.RecordSuccess(name)
	}
	return s.manager.RecordFailure(name)
}

// Reap 回收所有池中的过期连接
func (s *ManagerService) Reap(ctx context.Context) int {
	return s.manager.ReapIdle(ctx)
}

// Close 停止管理器并释放驱动持有的资源
func (s *ManagerService) Close(ctx context.Context) error {
	err := s.manager.Stop(ctx)

	s.mu.Lock()
	closers := s.closers
	s.closers = make(map[string]shutdowner)
	s.mu.Unlock()

	for name, closer := range closers {
		if cerr := closer.Shutdown(); cerr != nil {
			s.logger.Warn().Err(cerr).Str("pool", name).Msg("failed to shut down driver")
		}
	}
	return err
}
