package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultMonitorInterval 是空闲回收和指标导出的默认周期
const DefaultMonitorInterval = 30 * time.Second

// ManagerOption 是用于配置管理器的函数类型
type ManagerOption func(*Manager)

// WithLogger 设置结构化日志
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetricsSink 设置指标接收端
func WithMetricsSink(sink MetricsSink) ManagerOption {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithMonitorInterval 设置空闲回收和指标导出的周期
func WithMonitorInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.monitorInterval = d
		}
	}
}

// WithClock 替换时间来源，连接时间戳和熔断器都使用它
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithEventListener 添加连接生命周期事件监听器
func WithEventListener(l EventListener) ManagerOption {
	return func(m *Manager) {
		m.listeners = append(m.listeners, l)
	}
}

// Manager 管理多个命名连接池。
// 每个池有独立的互斥锁，池之间不存在跨池加锁。
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*connPool

	logger          zerolog.Logger
	sink            MetricsSink
	monitorInterval time.Duration
	now             func() time.Time
	listeners       []EventListener

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewManager 创建一个连接池管理器，调用 Start 后才会运行后台监控
func NewManager(options ...ManagerOption) *Manager {
	m := &Manager{
		pools:           make(map[string]*connPool),
		logger:          zerolog.Nop(),
		sink:            nopSink{},
		monitorInterval: DefaultMonitorInterval,
		now:             time.Now,
	}
	for _, option := range options {
		option(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start 启动共享的监控协程，负责空闲连接回收和指标导出，重复调用无副作用
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}
	if m.started {
		return nil
	}
	m.started = true

	m.wg.Add(1)
	go m.monitorLoop()

	m.logger.Info().Dur("interval", m.monitorInterval).Msg("pool manager started")
	return nil
}

// Stop 停止所有后台协程，并行清空每个池；单个连接关闭失败只记录日志。
// 重复调用无副作用，之后的操作返回 ErrManagerStopped。
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.cancel()
	pools := make([]*connPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	m.wg.Wait()

	var g errgroup.Group
	for _, p := range pools {
		p := p
		g.Go(func() error {
			p.drain(ctx)
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info().Int("pools", len(pools)).Msg("pool manager stopped")
	return nil
}

func (m *Manager) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(m.ctx)
		}
	}
}

func (m *Manager) pool(name string) (*connPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}
	p, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, name)
	}
	return p, nil
}

func (m *Manager) snapshotPools() []*connPool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pools := make([]*connPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	return pools
}

// CreatePool 注册连接池，预先建立 MinConnections 个连接并启动该池的健康检查
func (m *Manager) CreatePool(name string, typ ConnectionType, cfg PoolConfig, driver Driver) (PoolStats, error) {
	if name == "" {
		return PoolStats{}, fmt.Errorf("%w: pool name is empty", ErrInvalidConfig)
	}
	if driver == nil {
		return PoolStats{}, fmt.Errorf("%w: pool %s has no driver", ErrInvalidConfig, name)
	}
	if err := cfg.Validate(); err != nil {
		return PoolStats{}, err
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return PoolStats{}, ErrManagerStopped
	}
	if _, exists := m.pools[name]; exists {
		m.mu.Unlock()
		return PoolStats{}, fmt.Errorf("%w: %s", ErrPoolExists, name)
	}
	p := newConnPool(name, typ, cfg, driver, m)
	m.pools[name] = p
	m.mu.Unlock()

	for i := 0; i < cfg.MinConnections; i++ {
		// 失败已计入 failed 并记录日志，健康检查会继续补齐
		_, _ = p.createConnection(m.ctx, false)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return PoolStats{}, ErrManagerStopped
	}
	var loopCtx context.Context
	loopCtx, p.cancel = context.WithCancel(m.ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		p.runHealthLoop(loopCtx, cfg.HealthCheckInterval)
	}()
	m.mu.Unlock()

	stats := p.snapshot()
	m.logger.Info().Str("pool", name).Str("type", string(typ)).
		Int("min", cfg.MinConnections).Int("max", cfg.MaxConnections).
		Int("connections", stats.Metrics.Total).Msg("pool created")
	return stats, nil
}

// RemovePool 停止池的健康检查并销毁其全部连接
func (m *Manager) RemovePool(ctx context.Context, name string) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrManagerStopped
	}
	p, ok := m.pools[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPoolNotFound, name)
	}
	delete(m.pools, name)
	m.mu.Unlock()

	p.stop()
	p.drain(ctx)
	m.logger.Info().Str("pool", name).Msg("pool removed")
	return nil
}

// AcquireConnection 从池中获取一个连接。timeout 为 0 时使用池配置的 AcquireTimeout。
// 熔断器打开时直接返回 ErrCircuitOpen，不尝试创建连接，也不计入失败。
func (m *Manager) AcquireConnection(ctx context.Context, poolName string, timeout time.Duration) (Connection, error) {
	return m.acquire(ctx, poolName, timeout, false)
}

// AcquireBalanced 与 AcquireConnection 相同，但空闲连接由负载均衡策略选出
func (m *Manager) AcquireBalanced(ctx context.Context, poolName string, timeout time.Duration) (Connection, error) {
	return m.acquire(ctx, poolName, timeout, true)
}

func (m *Manager) acquire(ctx context.Context, poolName string, timeout time.Duration, balanced bool) (Connection, error) {
	p, err := m.pool(poolName)
	if err != nil {
		return Connection{}, err
	}

	p.mu.Lock()
	enabled := p.cfg.Enabled
	p.mu.Unlock()
	if !enabled {
		return Connection{}, fmt.Errorf("%w: %s", ErrPoolDisabled, poolName)
	}

	if p.refreshBreakerStatus() == BreakerOpen {
		p.logger.Warn().Msg("acquire rejected by open circuit breaker")
		return Connection{}, fmt.Errorf("%w: pool %s", ErrCircuitOpen, poolName)
	}

	return p.acquire(ctx, timeout, balanced)
}

// ReleaseConnection 归还连接，满足销毁策略时销毁，否则回收为空闲
func (m *Manager) ReleaseConnection(poolName, connectionID string) error {
	return m.ReleaseWithError(poolName, connectionID, nil)
}

// ReleaseWithError 归还连接，err 不为 nil 表示使用过程中出错，会先累加连接的错误次数
func (m *Manager) ReleaseWithError(poolName, connectionID string, err error) error {
	p, perr := m.pool(poolName)
	if perr != nil {
		return perr
	}
	return p.release(m.ctx, connectionID, err)
}

// Do 获取连接执行 fn，然后归还。fn 的结果同时上报给熔断器。
func (m *Manager) Do(ctx context.Context, poolName string, fn func(Connection) error) error {
	conn, err := m.AcquireConnection(ctx, poolName, 0)
	if err != nil {
		return err
	}

	fnErr := fn(conn)
	if err := m.ReleaseWithError(poolName, conn.ID, fnErr); err != nil {
		m.logger.Error().Err(err).Str("pool", poolName).Str("connection_id", conn.ID).Msg("failed to release connection")
	}

	if fnErr != nil {
		_ = m.RecordFailure(poolName)
		return fnErr
	}
	_ = m.RecordSuccess(poolName)
	return nil
}

// LoadBalance 按池的负载均衡策略选出一个空闲健康连接，不改变其状态
func (m *Manager) LoadBalance(poolName string) (Connection, error) {
	p, err := m.pool(poolName)
	if err != nil {
		return Connection{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.balancer.Select(p.conns)
	if idx < 0 {
		return Connection{}, fmt.Errorf("%w: pool %s", ErrNoHealthyConnection, poolName)
	}
	p.metrics.LoadBalanced++
	return p.conns[idx].snapshot(), nil
}

// RecordSuccess 上报一次成功，只在熔断器半开时生效
func (m *Manager) RecordSuccess(poolName string) error {
	p, err := m.pool(poolName)
	if err != nil {
		return err
	}
	p.breaker.RecordSuccess()
	p.refreshBreakerStatus()
	return nil
}

// RecordFailure 上报一次失败，达到阈值时打开熔断器
func (m *Manager) RecordFailure(poolName string) error {
	p, err := m.pool(poolName)
	if err != nil {
		return err
	}
	p.breaker.RecordFailure()
	p.refreshBreakerStatus()
	return nil
}

// CreateConnection 为池新建一个空闲连接
func (m *Manager) CreateConnection(ctx context.Context, poolName string) (Connection, error) {
	p, err := m.pool(poolName)
	if err != nil {
		return Connection{}, err
	}
	return p.createConnection(ctx, false)
}

// DestroyConnection 销毁池中的指定连接
func (m *Manager) DestroyConnection(ctx context.Context, poolName, connectionID string) error {
	p, err := m.pool(poolName)
	if err != nil {
		return err
	}
	return p.destroyConnection(ctx, connectionID)
}

// CheckHealth 立即对池执行一次健康检查并返回检查后的快照
func (m *Manager) CheckHealth(ctx context.Context, poolName string) (PoolStats, error) {
	p, err := m.pool(poolName)
	if err != nil {
		return PoolStats{}, err
	}
	p.healthCheck(ctx)
	return p.snapshot(), nil
}

// ReapIdle 对所有池执行一次空闲回收并导出指标，返回回收的连接数
func (m *Manager) ReapIdle(ctx context.Context) int {
	reaped := 0
	for _, p := range m.snapshotPools() {
		reaped += p.reapIdle(ctx)
		m.exportMetrics(p)
	}
	return reaped
}

func (m *Manager) exportMetrics(p *connPool) {
	g := p.gauges()
	m.recordGauge(p.name, GaugeTotal, float64(g.Total))
	m.recordGauge(p.name, GaugeActive, float64(g.Active))
	m.recordGauge(p.name, GaugeIdle, float64(g.Idle))
	m.recordGauge(p.name, GaugeWaiting, float64(g.Waiting))
}

// recordGauge 调用指标接收端，接收端的 panic 会被吞掉并记录日志
func (m *Manager) recordGauge(poolName, kind string, value float64) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("pool", poolName).Str("kind", kind).Msg("metrics sink panicked")
		}
	}()
	m.sink.RecordGauge(poolName, kind, value)
}

// GetPoolStats 返回单个池的快照
func (m *Manager) GetPoolStats(poolName string) (PoolStats, error) {
	p, err := m.pool(poolName)
	if err != nil {
		return PoolStats{}, err
	}
	return p.snapshot(), nil
}

// GetStats 返回所有池的快照
func (m *Manager) GetStats() map[string]PoolStats {
	pools := m.snapshotPools()
	stats := make(map[string]PoolStats, len(pools))
	for _, p := range pools {
		stats[p.name] = p.snapshot()
	}
	return stats
}

// PoolNames 返回按名称排序的池列表
func (m *Manager) PoolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdatePoolConfig 合并部分配置，校验后生效，返回新的完整配置
func (m *Manager) UpdatePoolConfig(poolName string, update PoolConfigUpdate) (PoolConfig, error) {
	p, err := m.pool(poolName)
	if err != nil {
		return PoolConfig{}, err
	}

	cfg, err := p.applyConfig(update)
	if err != nil {
		return PoolConfig{}, err
	}

	m.logger.Info().Str("pool", poolName).Msg("pool config updated")
	return cfg, nil
}
