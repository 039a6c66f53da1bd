// Package adapters 提供 pool.Driver 的具体实现，以及按类型取用连接的辅助函数
package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/fyerfyer/connpool/pool"
)

var (
	// ErrUnexpectedHandle 表示池中连接的底层对象与调用方期望的类型不符
	ErrUnexpectedHandle = errors.New("unexpected connection handle type")

	// ErrHandleClosed 表示驱动收到了已经关闭的连接
	ErrHandleClosed = errors.New("connection handle already closed")
)

// withHandle 从池中借出连接，断言底层对象类型后执行 fn，结果会上报给熔断器
func withHandle[T any](ctx context.Context, m *pool.Manager, poolName string, fn func(T) error) error {
	return m.Do(ctx, poolName, func(c pool.Connection) error {
		h, ok := c.Raw().(T)
		if !ok {
			return fmt.Errorf("%w: pool %s holds %T", ErrUnexpectedHandle, poolName, c.Raw())
		}
		return fn(h)
	})
}

// endpointFromAddr 将 host:port 解析为 Endpoint，端口缺失时使用 defaultPort
func endpointFromAddr(addr string, defaultPort int) pool.Endpoint {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return pool.Endpoint{Host: addr, Port: defaultPort}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = defaultPort
	}
	return pool.Endpoint{Host: host, Port: port}
}
