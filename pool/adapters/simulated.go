package adapters

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyerfyer/connpool/pool"
)

// SimulatedConn 是模拟驱动拨出的连接
type SimulatedConn struct {
	ID     int64
	closed atomic.Bool
}

// Closed 返回连接是否已关闭
func (c *SimulatedConn) Closed() bool {
	return c.closed.Load()
}

// SimulatedDriver 不连接任何后端，按连接类型模拟拨号、关闭和探测延迟
type SimulatedDriver struct {
	typ          pool.ConnectionType
	endpoint     pool.Endpoint
	dialLatency  time.Duration
	closeLatency time.Duration
	pingLatency  time.Duration

	failMu      sync.Mutex
	failureRate float64
	rng         *rand.Rand

	nextID atomic.Int64
}

// SimulatedOption 是用于配置模拟驱动的函数类型
type SimulatedOption func(*SimulatedDriver)

// WithSimulatedLatency 覆盖默认的拨号、关闭和探测延迟
func WithSimulatedLatency(dial, closeDelay, ping time.Duration) SimulatedOption {
	return func(d *SimulatedDriver) {
		d.dialLatency = dial
		d.closeLatency = closeDelay
		d.pingLatency = ping
	}
}

// WithSimulatedEndpoint 覆盖默认的后端地址
func WithSimulatedEndpoint(ep pool.Endpoint) SimulatedOption {
	return func(d *SimulatedDriver) {
		d.endpoint = ep
	}
}

// WithFailureRate 设置拨号和探测的失败概率，rng 为 nil 时使用按时间播种的随机源
func WithFailureRate(rate float64, rng *rand.Rand) SimulatedOption {
	return func(d *SimulatedDriver) {
		d.failureRate = rate
		if rng != nil {
			d.rng = rng
		}
	}
}

// NewSimulatedDriver 创建模拟驱动。
// 默认延迟：postgres 拨号 50ms、关闭 30ms、探测 25ms；redis 为 20ms、10ms、15ms；其他类型为 30ms、20ms、20ms。
func NewSimulatedDriver(typ pool.ConnectionType, opts ...SimulatedOption) *SimulatedDriver {
	d := &SimulatedDriver{
		typ:      typ,
		endpoint: defaultSimulatedEndpoint(typ),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	switch typ {
	case pool.TypePostgres:
		d.dialLatency, d.closeLatency, d.pingLatency = 50*time.Millisecond, 30*time.Millisecond, 25*time.Millisecond
	case pool.TypeRedis:
		d.dialLatency, d.closeLatency, d.pingLatency = 20*time.Millisecond, 10*time.Millisecond, 15*time.Millisecond
	default:
		d.dialLatency, d.closeLatency, d.pingLatency = 30*time.Millisecond, 20*time.Millisecond, 20*time.Millisecond
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func defaultSimulatedEndpoint(typ pool.ConnectionType) pool.Endpoint {
	switch typ {
	case pool.TypePostgres:
		return pool.Endpoint{Host: "localhost", Port: 5432}
	case pool.TypeRedis:
		return pool.Endpoint{Host: "localhost", Port: 6379}
	case pool.TypeHTTP:
		return pool.Endpoint{Host: "api.external.com", Port: 443}
	default:
		return pool.Endpoint{Host: "localhost", Port: 80}
	}
}

// sleep 等待 d，ctx 取消时提前返回
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *SimulatedDriver) shouldFail() bool {
	d.failMu.Lock()
	defer d.failMu.Unlock()
	return d.failureRate > 0 && d.rng.Float64() < d.failureRate
}

// SetFailureRate 在运行时调整失败概率
func (d *SimulatedDriver) SetFailureRate(rate float64) {
	d.failMu.Lock()
	defer d.failMu.Unlock()
	d.failureRate = rate
}

// Dial 实现 pool.Driver
func (d *SimulatedDriver) Dial(ctx context.Context) (pool.Handle, error) {
	if err := sleep(ctx, d.dialLatency); err != nil {
		return nil, err
	}
	if d.shouldFail() {
		return nil, fmt.Errorf("simulated %s dial to %s:%d failed", d.typ, d.endpoint.Host, d.endpoint.Port)
	}
	return &SimulatedConn{ID: d.nextID.Add(1)}, nil
}

// Close 实现 pool.Driver
func (d *SimulatedDriver) Close(ctx context.Context, h pool.Handle) error {
	c, ok := h.(*SimulatedConn)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}
	if err := sleep(ctx, d.closeLatency); err != nil {
		return err
	}
	if !c.closed.CompareAndSwap(false, true) {
		return ErrHandleClosed
	}
	return nil
}

// Ping 实现 pool.Driver
func (d *SimulatedDriver) Ping(ctx context.Context, h pool.Handle) (time.Duration, error) {
	c, ok := h.(*SimulatedConn)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}
	if c.Closed() {
		return 0, ErrHandleClosed
	}
	start := time.Now()
	if err := sleep(ctx, d.pingLatency); err != nil {
		return 0, err
	}
	if d.shouldFail() {
		return 0, fmt.Errorf("simulated %s probe failed", d.typ)
	}
	return time.Since(start), nil
}

// Endpoint 实现 pool.Driver
func (d *SimulatedDriver) Endpoint() pool.Endpoint {
	return d.endpoint
}
