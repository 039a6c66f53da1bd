package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/fyerfyer/connpool/pool"
	"github.com/go-redis/redis/v8"
)

// RedisConfig 定义 Redis 连接配置
type RedisConfig struct {
	// 连接设置
	Addr     string
	Username string
	Password string
	DB       int

	// 超时设置
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// 命令重试次数，-1 表示不重试
	MaxRetries int
}

// DefaultRedisConfig 返回默认的 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisDriver 为每个池连接创建独立的单连接 *redis.Client
type RedisDriver struct {
	config   *RedisConfig
	endpoint pool.Endpoint
}

// NewRedisDriver 创建 Redis 驱动
func NewRedisDriver(config *RedisConfig) *RedisDriver {
	if config == nil {
		config = DefaultRedisConfig()
	}

	ep := endpointFromAddr(config.Addr, 6379)
	ep.Database = fmt.Sprintf("%d", config.DB)
	return &RedisDriver{
		config:   config,
		endpoint: ep,
	}
}

// Dial 实现 pool.Driver，返回已通过 PING 验证的 *redis.Client
func (d *RedisDriver) Dial(ctx context.Context) (pool.Handle, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         d.config.Addr,
		Username:     d.config.Username,
		Password:     d.config.Password,
		DB:           d.config.DB,
		DialTimeout:  d.config.DialTimeout,
		ReadTimeout:  d.config.ReadTimeout,
		WriteTimeout: d.config.WriteTimeout,
		MaxRetries:   d.config.MaxRetries,
		// 每个池连接只对应一条 TCP 连接
		PoolSize:     1,
		MinIdleConns: 0,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Close 实现 pool.Driver
func (d *RedisDriver) Close(ctx context.Context, h pool.Handle) error {
	client, ok := h.(*redis.Client)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}
	return client.Close()
}

// Ping 实现 pool.Driver，返回 PING 命令的耗时
func (d *RedisDriver) Ping(ctx context.Context, h pool.Handle) (time.Duration, error) {
	client, ok := h.(*redis.Client)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}

	start := time.Now()
	result, err := client.Ping(ctx).Result()
	if err != nil {
		return 0, err
	}
	if result != "PONG" {
		return 0, fmt.Errorf("unexpected PING reply %q", result)
	}
	return time.Since(start), nil
}

// Endpoint 实现 pool.Driver
func (d *RedisDriver) Endpoint() pool.Endpoint {
	return d.endpoint
}

// WithRedis 从池中借出 Redis 客户端执行 fn
func WithRedis(ctx context.Context, m *pool.Manager, poolName string, fn func(*redis.Client) error) error {
	return withHandle(ctx, m, poolName, fn)
}

// ExecuteCmd 借出客户端执行单条命令，返回命令结果
func ExecuteCmd(ctx context.Context, m *pool.Manager, poolName string, cmd func(*redis.Client) *redis.Cmd) (*redis.Cmd, error) {
	var resultCmd *redis.Cmd
	err := WithRedis(ctx, m, poolName, func(client *redis.Client) error {
		resultCmd = cmd(client)
		return resultCmd.Err()
	})
	if err != nil {
		return nil, err
	}
	return resultCmd, nil
}
