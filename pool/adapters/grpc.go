package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyerfyer/connpool/pool"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// GRPCClientConfig 定义 gRPC 客户端连接的配置
type GRPCClientConfig struct {
	// 连接目标地址
	Target string

	// 健康检查的服务名，为空表示整个服务器
	HealthService string

	// 拨号时是否立即执行一次健康检查
	VerifyOnDial bool

	// 传输凭证，为 nil 时使用明文连接
	TransportCredentials credentials.TransportCredentials

	// 拦截器
	UnaryInterceptors  []grpc.UnaryClientInterceptor
	StreamInterceptors []grpc.StreamClientInterceptor

	UserAgent string

	// 保活选项
	KeepaliveTime                time.Duration
	KeepaliveTimeout             time.Duration
	KeepalivePermitWithoutStream bool

	// 自定义 Dial 选项
	DialOptions []grpc.DialOption
}

// DefaultGRPCClientConfig 返回默认的 gRPC 客户端配置
func DefaultGRPCClientConfig(target string) *GRPCClientConfig {
	return &GRPCClientConfig{
		Target:           target,
		VerifyOnDial:     true,
		KeepaliveTime:    30 * time.Second,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCDriver 为每个池连接创建独立的 *grpc.ClientConn，用标准健康检查协议探测
type GRPCDriver struct {
	config   *GRPCClientConfig
	endpoint pool.Endpoint
}

// NewGRPCDriver 创建 gRPC 驱动
func NewGRPCDriver(config *GRPCClientConfig) (*GRPCDriver, error) {
	if config == nil || config.Target == "" {
		return nil, fmt.Errorf("gRPC target cannot be empty")
	}
	return &GRPCDriver{
		config:   config,
		endpoint: endpointFromAddr(grpcAuthority(config.Target), 443),
	}, nil
}

// grpcAuthority 去掉目标地址中的解析器前缀，例如 dns:///host:port
func grpcAuthority(target string) string {
	if i := strings.Index(target, ":///"); i >= 0 {
		return target[i+4:]
	}
	return target
}

func (d *GRPCDriver) dialOptions() []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 4+len(d.config.DialOptions))

	if d.config.TransportCredentials != nil {
		opts = append(opts, grpc.WithTransportCredentials(d.config.TransportCredentials))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if len(d.config.UnaryInterceptors) > 0 {
		opts = append(opts, grpc.WithChainUnaryInterceptor(d.config.UnaryInterceptors...))
	}
	if len(d.config.StreamInterceptors) > 0 {
		opts = append(opts, grpc.WithChainStreamInterceptor(d.config.StreamInterceptors...))
	}
	if d.config.UserAgent != "" {
		opts = append(opts, grpc.WithUserAgent(d.config.UserAgent))
	}
	if d.config.KeepaliveTime > 0 || d.config.KeepaliveTimeout > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                d.config.KeepaliveTime,
			Timeout:             d.config.KeepaliveTimeout,
			PermitWithoutStream: d.config.KeepalivePermitWithoutStream,
		}))
	}
	return append(opts, d.config.DialOptions...)
}

// Dial 实现 pool.Driver，返回 *grpc.ClientConn
func (d *GRPCDriver) Dial(ctx context.Context) (pool.Handle, error) {
	conn, err := grpc.NewClient(d.config.Target, d.dialOptions()...)
	if err != nil {
		return nil, err
	}
	conn.Connect()

	if d.config.VerifyOnDial {
		if _, err := d.check(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// Close 实现 pool.Driver
func (d *GRPCDriver) Close(ctx context.Context, h pool.Handle) error {
	conn, ok := h.(*grpc.ClientConn)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}
	return conn.Close()
}

// Ping 实现 pool.Driver，非 SERVING 状态视为探测失败
func (d *GRPCDriver) Ping(ctx context.Context, h pool.Handle) (time.Duration, error) {
	conn, ok := h.(*grpc.ClientConn)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}
	return d.check(ctx, conn)
}

func (d *GRPCDriver) check(ctx context.Context, conn *grpc.ClientConn) (time.Duration, error) {
	start := time.Now()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: d.config.HealthService,
	})
	if err != nil {
		return 0, err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return 0, fmt.Errorf("service %q is %s", d.config.HealthService, resp.GetStatus())
	}
	return time.Since(start), nil
}

// Endpoint 实现 pool.Driver
func (d *GRPCDriver) Endpoint() pool.Endpoint {
	return d.endpoint
}

// WithGRPCConn 从池中借出 gRPC 连接执行 fn
func WithGRPCConn(ctx context.Context, m *pool.Manager, poolName string, fn func(*grpc.ClientConn) error) error {
	return withHandle(ctx, m, poolName, fn)
}

// WithClient 用借出的连接构造类型化客户端后执行 fn
func WithClient[C any](ctx context.Context, m *pool.Manager, poolName string, newClient func(grpc.ClientConnInterface) C, fn func(C) error) error {
	return WithGRPCConn(ctx, m, poolName, func(conn *grpc.ClientConn) error {
		return fn(newClient(conn))
	})
}
