package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyerfyer/connpool/pool/connlimit"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// probeConcurrency 是单次健康检查中并发探测的上限
const probeConcurrency = 8

// connPool 是单个命名连接池，所有可变状态都由 mu 保护
type connPool struct {
	name      string
	typ       ConnectionType
	driver    Driver
	logger    zerolog.Logger
	now       func() time.Time
	listeners []EventListener
	createdAt time.Time

	breaker  *CircuitBreaker
	balancer *LoadBalancer

	mu              sync.Mutex
	cfg             PoolConfig
	conns           []*Connection
	dialing         int
	metrics         Metrics
	health          HealthStatus
	lastHealthCheck time.Time
	breakerStatus   BreakerState
	limiter         connlimit.Limiter
	closed          bool

	// released 在归还或销毁连接时被关闭并替换，唤醒所有等待者
	released chan struct{}

	// 健康检查协程控制
	cancel      context.CancelFunc
	done        chan struct{}
	resetHealth chan time.Duration
}

func newConnPool(name string, typ ConnectionType, cfg PoolConfig, driver Driver, m *Manager) *connPool {
	p := &connPool{
		name:        name,
		typ:         typ,
		driver:      driver,
		logger:      m.logger.With().Str("pool", name).Logger(),
		now:         m.now,
		listeners:   m.listeners,
		createdAt:   m.now(),
		breaker:     NewCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout, m.now),
		balancer:    NewLoadBalancer(cfg.LoadBalancingStrategy, nil),
		cfg:         cfg,
		health:      HealthHealthy,
		limiter:     newDialLimiter(cfg),
		released:    make(chan struct{}),
		done:        make(chan struct{}),
		resetHealth: make(chan time.Duration, 1),
	}
	p.breaker.OnStateChange(func(from, to BreakerState) {
		ev := p.logger.Info()
		if to == BreakerOpen {
			ev = p.logger.Warn()
		}
		ev.Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	})
	return p
}

// newDialLimiter 根据配置创建拨号限流器，未配置速率时返回 nil
func newDialLimiter(cfg PoolConfig) connlimit.Limiter {
	if cfg.DialRate <= 0 {
		return nil
	}
	return connlimit.NewTokenBucketLimiter(cfg.DialRate, cfg.DialBurst,
		connlimit.WithMaxWaitTime(cfg.ConnectionTimeout))
}

// broadcastLocked 唤醒所有等待连接的调用者，调用时必须持有 mu
func (p *connPool) broadcastLocked() {
	close(p.released)
	p.released = make(chan struct{})
}

func (p *connPool) notifyEvent(event Event, conn Connection) {
	for _, listener := range p.listeners {
		listener.OnEvent(event, conn)
	}
}

func (p *connPool) findLocked(id string) int {
	for i, c := range p.conns {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// createConnection 拨号创建新连接。claim 为 true 时连接直接以 active 状态交给调用者，
// 否则进入空闲列表。拨号失败只记录 failed 并返回错误，不会留下半初始化的连接。
func (p *connPool) createConnection(ctx context.Context, claim bool) (Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Connection{}, ErrManagerStopped
	}
	if len(p.conns)+p.dialing >= p.cfg.MaxConnections {
		p.mu.Unlock()
		return Connection{}, ErrPoolFull
	}
	// 先占位，拨号期间不持有锁
	p.dialing++
	cfg := p.cfg
	limiter := p.limiter
	p.mu.Unlock()

	h, err := p.dial(ctx, cfg, limiter)

	p.mu.Lock()
	p.dialing--
	if err != nil {
		p.metrics.Failed++
		p.broadcastLocked()
		p.mu.Unlock()
		p.logger.Error().Err(err).Msg("failed to create connection")
		return Connection{}, fmt.Errorf("%w: pool %s: %v", ErrConnectionCreateFailed, p.name, err)
	}
	if p.closed {
		p.mu.Unlock()
		_ = p.closeHandle(context.Background(), "", h)
		return Connection{}, ErrManagerStopped
	}

	now := p.now()
	ep := p.driver.Endpoint()
	c := &Connection{
		ID:           newConnectionID(p.name, now),
		Pool:         p.name,
		Type:         p.typ,
		Host:         ep.Host,
		Port:         ep.Port,
		Database:     ep.Database,
		Status:       StatusIdle,
		CreatedAt:    now,
		LastUsed:     now,
		HealthStatus: ConnectionHealthy,
		Metadata:     map[string]string{"pool": p.name},
		handle:       h,
	}
	p.conns = append(p.conns, c)
	p.metrics.Total++
	p.metrics.Created++
	if claim {
		c.Status = StatusActive
		p.metrics.Active++
	} else {
		p.metrics.Idle++
		p.broadcastLocked()
	}
	snap := c.snapshot()
	p.mu.Unlock()

	p.logger.Debug().Str("connection_id", snap.ID).Msg("connection created")
	p.notifyEvent(EventCreate, snap)
	return snap, nil
}

func (p *connPool) dial(ctx context.Context, cfg PoolConfig, limiter connlimit.Limiter) (Handle, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()
	return p.driver.Dial(dialCtx)
}

// removeLocked 从池中移除连接并更新计数，调用时必须持有 mu
func (p *connPool) removeLocked(idx int) *Connection {
	c := p.conns[idx]
	p.conns = append(p.conns[:idx], p.conns[idx+1:]...)
	p.metrics.Total--
	p.metrics.Destroyed++
	if c.Status == StatusActive {
		p.metrics.Active--
	} else {
		p.metrics.Idle--
	}
	p.balancer.Forget(c.ID)
	p.broadcastLocked()
	return c
}

// closeHandle 关闭后端连接，失败只记录日志，池内记账不会回滚
func (p *connPool) closeHandle(ctx context.Context, id string, h Handle) error {
	closeCtx, cancel := context.WithTimeout(ctx, p.connectionTimeout())
	defer cancel()
	if err := p.driver.Close(closeCtx, h); err != nil {
		p.logger.Error().Err(err).Str("connection_id", id).Msg("failed to destroy connection")
		return fmt.Errorf("%w: %s: %v", ErrConnectionDestroyFailed, id, err)
	}
	return nil
}

func (p *connPool) connectionTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.ConnectionTimeout
}

// destroy 关闭并移除已从列表中摘下的连接
func (p *connPool) destroy(ctx context.Context, c *Connection) error {
	snap := c.snapshot()
	err := p.closeHandle(ctx, c.ID, c.handle)
	p.logger.Debug().Str("connection_id", c.ID).Msg("connection destroyed")
	p.notifyEvent(EventDestroy, snap)
	return err
}

// destroyConnection 按ID销毁连接
func (p *connPool) destroyConnection(ctx context.Context, id string) error {
	p.mu.Lock()
	idx := p.findLocked(id)
	if idx < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	c := p.removeLocked(idx)
	p.mu.Unlock()
	return p.destroy(ctx, c)
}

// shouldDestroyLocked 判断归还的连接是否需要销毁
func (p *connPool) shouldDestroyLocked(c *Connection, now time.Time) bool {
	return c.ErrorCount > p.cfg.RetryAttempts ||
		c.IdleFor(now) > p.cfg.IdleTimeout ||
		c.HealthStatus == ConnectionUnhealthy
}

// pickIdleLocked 选择一个空闲健康连接，balanced 为 true 时交给负载均衡器
func (p *connPool) pickIdleLocked(balanced bool) int {
	if balanced {
		idx := p.balancer.Select(p.conns)
		if idx >= 0 {
			p.metrics.LoadBalanced++
		}
		return idx
	}
	for i, c := range p.conns {
		if c.Status == StatusIdle && c.HealthStatus == ConnectionHealthy {
			return i
		}
	}
	return -1
}

// acquire 获取连接：优先复用空闲连接，其次在容量内新建，否则等待释放信号直到超时。
// 等待者被同一个广播唤醒，先重新拿到锁的调用者获胜，不保证先来先得。
func (p *connPool) acquire(ctx context.Context, timeout time.Duration, balanced bool) (Connection, error) {
	start := time.Now()

	p.mu.Lock()
	if timeout <= 0 {
		timeout = p.cfg.AcquireTimeout
	}
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return Connection{}, ErrManagerStopped
		}

		if idx := p.pickIdleLocked(balanced); idx >= 0 {
			c := p.conns[idx]
			c.Status = StatusActive
			c.LastUsed = p.now()
			p.metrics.Idle--
			p.metrics.Active++
			p.metrics.AvgAcquireTime = avgDuration(p.metrics.AvgAcquireTime, time.Since(start))
			snap := c.snapshot()
			p.mu.Unlock()

			p.notifyEvent(EventAcquire, snap)
			return snap, nil
		}

		if len(p.conns)+p.dialing < p.cfg.MaxConnections {
			p.mu.Unlock()

			snap, err := p.createConnection(ctx, true)
			switch {
			case err == nil:
				p.mu.Lock()
				p.metrics.AvgAcquireTime = avgDuration(p.metrics.AvgAcquireTime, time.Since(start))
				p.mu.Unlock()
				p.notifyEvent(EventAcquire, snap)
				return snap, nil
			case errors.Is(err, ErrPoolFull):
				// 另一个调用者抢先占用了容量，重新检查
				continue
			case errors.Is(err, ErrManagerStopped):
				return Connection{}, err
			default:
				p.recordAcquireFailure(err)
				return Connection{}, err
			}
		}

		wait := p.released
		p.metrics.Waiting++
		p.mu.Unlock()

		select {
		case <-wait:
			p.doneWaiting()
		case <-timer.C:
			p.doneWaiting()
			err := fmt.Errorf("%w: pool %s after %v", ErrAcquireTimeout, p.name, timeout)
			p.recordAcquireFailure(err)
			return Connection{}, err
		case <-ctx.Done():
			p.doneWaiting()
			p.recordAcquireFailure(ctx.Err())
			return Connection{}, ctx.Err()
		}
	}
}

func (p *connPool) doneWaiting() {
	p.mu.Lock()
	p.metrics.Waiting--
	p.mu.Unlock()
}

// recordAcquireFailure 记录获取失败并通知熔断器
func (p *connPool) recordAcquireFailure(err error) {
	p.mu.Lock()
	p.metrics.Failed++
	p.mu.Unlock()

	p.breaker.RecordFailure()
	p.refreshBreakerStatus()
	p.logger.Warn().Err(err).Msg("failed to acquire connection")
}

// refreshBreakerStatus 同步熔断器状态镜像，查询本身会触发惰性的半开转换
func (p *connPool) refreshBreakerStatus() BreakerState {
	state := p.breaker.State()
	p.mu.Lock()
	p.breakerStatus = state
	p.mu.Unlock()
	return state
}

// release 归还连接。err 不为 nil 时先累加错误次数，再按销毁策略决定回收或销毁。
func (p *connPool) release(ctx context.Context, id string, err error) error {
	p.mu.Lock()
	idx := p.findLocked(id)
	if idx < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	c := p.conns[idx]
	if c.Status != StatusActive {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectionNotActive, id)
	}
	if err != nil {
		c.ErrorCount++
	}

	now := p.now()
	if p.shouldDestroyLocked(c, now) {
		p.removeLocked(idx)
		p.mu.Unlock()
		// 关闭失败已记录日志，不影响归还结果
		_ = p.destroy(ctx, c)
		return nil
	}

	c.Status = StatusIdle
	c.LastUsed = now
	p.metrics.Active--
	p.metrics.Idle++
	p.broadcastLocked()
	snap := c.snapshot()
	p.mu.Unlock()

	p.notifyEvent(EventRelease, snap)
	return nil
}

// reapIdle 销毁空闲时间超过 IdleTimeout 的连接，返回销毁数量
func (p *connPool) reapIdle(ctx context.Context) int {
	p.mu.Lock()
	now := p.now()
	var stale []*Connection
	for i := len(p.conns) - 1; i >= 0; i-- {
		c := p.conns[i]
		if c.Status == StatusIdle && c.IdleFor(now) > p.cfg.IdleTimeout {
			stale = append(stale, p.removeLocked(i))
		}
	}
	p.mu.Unlock()

	for _, c := range stale {
		_ = p.destroy(ctx, c)
	}
	if len(stale) > 0 {
		p.logger.Info().Int("count", len(stale)).Msg("reaped idle connections")
	}
	return len(stale)
}

type probeTarget struct {
	id     string
	handle Handle
}

type probeResult struct {
	latency time.Duration
	err     error
}

// healthCheck 探测所有连接，更新池的健康分类，然后补齐到最小连接数。
// 补齐只在这里发生，是池在连接损耗后恢复到最小规模的唯一途径。
func (p *connPool) healthCheck(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	cfg := p.cfg
	targets := make([]probeTarget, len(p.conns))
	for i, c := range p.conns {
		targets[i] = probeTarget{id: c.ID, handle: c.handle}
	}
	p.mu.Unlock()

	results := make([]probeResult, len(targets))
	var g errgroup.Group
	g.SetLimit(probeConcurrency)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
			defer cancel()
			lat, err := p.driver.Ping(probeCtx, t.handle)
			results[i] = probeResult{latency: lat, err: err}
			return nil
		})
	}
	_ = g.Wait()

	breakerState := p.breaker.State()

	p.mu.Lock()
	for i, t := range targets {
		idx := p.findLocked(t.id)
		if idx < 0 {
			// 探测期间已被销毁
			continue
		}
		c := p.conns[idx]
		r := results[i]
		if r.err != nil {
			c.HealthStatus = ConnectionUnhealthy
			c.ErrorCount++
			p.metrics.HealthCheckFailed++
			p.logger.Warn().Err(r.err).Str("connection_id", c.ID).Msg("health probe failed")
			continue
		}
		c.HealthStatus = ConnectionHealthy
		c.ResponseTime = r.latency
		p.metrics.HealthCheckPassed++
		p.metrics.AvgResponseTime = avgDuration(p.metrics.AvgResponseTime, r.latency)
	}

	healthy := 0
	for _, c := range p.conns {
		if c.HealthStatus == ConnectionHealthy {
			healthy++
		}
	}
	prev := p.health
	p.health = classifyHealth(healthy, len(p.conns))
	p.lastHealthCheck = p.now()
	p.breakerStatus = breakerState
	shortfall := cfg.MinConnections - len(p.conns) - p.dialing
	health := p.health
	// 健康状态变化可能让空闲连接重新可用
	p.broadcastLocked()
	p.mu.Unlock()

	if health != prev {
		p.logger.Info().Str("from", string(prev)).Str("to", string(health)).
			Int("healthy", healthy).Msg("pool health changed")
	}

	if shortfall > 0 {
		p.replenish(ctx, shortfall, cfg)
	}
}

// replenish 同步补齐连接，拨号失败时间隔 RetryDelay 重试，失败超过 RetryAttempts 次后放弃
func (p *connPool) replenish(ctx context.Context, n int, cfg PoolConfig) {
	failures := 0
	for created := 0; created < n; {
		_, err := p.createConnection(ctx, false)
		if err == nil {
			created++
			continue
		}
		if errors.Is(err, ErrPoolFull) || errors.Is(err, ErrManagerStopped) {
			return
		}
		failures++
		if failures > cfg.RetryAttempts {
			p.logger.Warn().Int("created", created).Int("wanted", n).Msg("giving up replenishing pool")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.RetryDelay):
		}
	}
}

// runHealthLoop 按 HealthCheckInterval 周期执行健康检查
func (p *connPool) runHealthLoop(ctx context.Context, interval time.Duration) {
	defer close(p.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.resetHealth:
			ticker.Reset(d)
		case <-ticker.C:
			p.healthCheck(ctx)
		}
	}
}

// stop 停止健康检查协程并等待其退出
func (p *connPool) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// applyConfig 合并并校验部分配置，生效后同步熔断器、负载均衡器与拨号限流器
func (p *connPool) applyConfig(update PoolConfigUpdate) (PoolConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.cfg
	cfg := update.Apply(old)
	if err := cfg.Validate(); err != nil {
		return PoolConfig{}, err
	}
	p.cfg = cfg
	if cfg.DialRate != old.DialRate || cfg.DialBurst != old.DialBurst || cfg.ConnectionTimeout != old.ConnectionTimeout {
		if p.limiter != nil {
			_ = p.limiter.Close()
		}
		p.limiter = newDialLimiter(cfg)
	}
	p.breaker.Configure(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout)
	p.balancer.SetStrategy(cfg.LoadBalancingStrategy)
	if cfg.HealthCheckInterval != old.HealthCheckInterval {
		select {
		case <-p.resetHealth:
		default:
		}
		p.resetHealth <- cfg.HealthCheckInterval
	}
	// 最大连接数可能变大，让等待者重新检查
	p.broadcastLocked()
	return cfg, nil
}

// drain 关闭连接池并销毁全部连接，单个连接关闭失败只记录日志
func (p *connPool) drain(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.metrics.Destroyed += int64(len(conns))
	p.metrics.Total = 0
	p.metrics.Active = 0
	p.metrics.Idle = 0
	p.broadcastLocked()
	limiter := p.limiter
	p.limiter = nil
	p.mu.Unlock()

	if limiter != nil {
		_ = limiter.Close()
	}
	for _, c := range conns {
		_ = p.destroy(ctx, c)
	}
	p.logger.Info().Int("connections", len(conns)).Msg("pool drained")
}

// snapshot 返回连接池的只读快照
func (p *connPool) snapshot() PoolStats {
	breaker := p.breaker.Snapshot()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.breakerStatus = breaker.State
	conns := make([]Connection, len(p.conns))
	for i, c := range p.conns {
		conns[i] = c.snapshot()
	}
	metrics := p.metrics
	metrics.CircuitBreakerOpen = breaker.Opens

	return PoolStats{
		Name:                 p.name,
		Type:                 p.typ,
		Config:               p.cfg,
		Connections:          conns,
		Metrics:              metrics,
		HealthStatus:         p.health,
		LastHealthCheck:      p.lastHealthCheck,
		CircuitBreakerStatus: p.breakerStatus,
		CircuitBreaker:       breaker,
		CreatedAt:            p.createdAt,
	}
}

func (p *connPool) gauges() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}
