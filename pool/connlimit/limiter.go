// Package connlimit 限制连接池向后端发起拨号的速率
package connlimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrWaitTimeout 当等待拨号许可超过最大等待时间时返回
	ErrWaitTimeout = errors.New("wait for dial permit timed out")

	// ErrLimiterClosed 当限流器已关闭时返回
	ErrLimiterClosed = errors.New("dial limiter is closed")
)

// Limiter 控制拨号许可的发放
type Limiter interface {
	// Allow 检查当前是否可以立即拨号，不等待
	Allow() bool

	// Wait 等待直到获得拨号许可、超过最大等待时间或上下文取消
	Wait(ctx context.Context) error

	// Close 关闭限流器，之后的 Wait 立即失败
	Close() error
}

// TokenBucketLimiter 使用令牌桶算法限制拨号速率
type TokenBucketLimiter struct {
	limiter     *rate.Limiter
	maxWaitTime time.Duration
	closed      chan struct{}
	closeOnce   sync.Once
}

// TokenBucketOption 是令牌桶限流器的配置选项
type TokenBucketOption func(*TokenBucketLimiter)

// WithMaxWaitTime 设置单次 Wait 的最大等待时间，为 0 表示只受上下文约束
func WithMaxWaitTime(d time.Duration) TokenBucketOption {
	return func(l *TokenBucketLimiter) {
		l.maxWaitTime = d
	}
}

// NewTokenBucketLimiter 创建一个新的令牌桶限流器
// 参数:
// - r: 每秒允许的拨号次数
// - burst: 允许的最大突发拨号数
func NewTokenBucketLimiter(r float64, burst int, opts ...TokenBucketOption) *TokenBucketLimiter {
	l := &TokenBucketLimiter{
		limiter:     rate.NewLimiter(rate.Limit(r), burst),
		maxWaitTime: 5 * time.Second,
		closed:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow 立即检查是否有可用令牌
func (l *TokenBucketLimiter) Allow() bool {
	select {
	case <-l.closed:
		return false
	default:
	}
	return l.limiter.Allow()
}

// Wait 等待令牌
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	select {
	case <-l.closed:
		return ErrLimiterClosed
	default:
	}

	if l.maxWaitTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.maxWaitTime)
		defer cancel()
	}

	// 预约令牌，超出等待上限时立即放弃，避免占用令牌后再失败
	r := l.limiter.Reserve()
	if !r.OK() {
		return ErrWaitTimeout
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
		r.Cancel()
		return ErrWaitTimeout
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-l.closed:
		r.Cancel()
		return ErrLimiterClosed
	case <-ctx.Done():
		r.Cancel()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrWaitTimeout
		}
		return ctx.Err()
	}
}

// SetRate 动态调整速率和突发容量
func (l *TokenBucketLimiter) SetRate(r float64, burst int) {
	l.limiter.SetLimit(rate.Limit(r))
	l.limiter.SetBurst(burst)
}

// Close 关闭限流器，重复调用是安全的
func (l *TokenBucketLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	return nil
}
