package pool

import "errors"

var (
	// ErrPoolNotFound 表示请求的连接池不存在
	ErrPoolNotFound = errors.New("pool not found")

	// ErrPoolExists 表示同名连接池已经注册
	ErrPoolExists = errors.New("pool already exists")

	// ErrPoolDisabled 表示连接池被配置为禁用，拒绝获取连接
	ErrPoolDisabled = errors.New("pool is disabled")

	// ErrPoolFull 表示池已达到最大连接数，无法再新建连接
	ErrPoolFull = errors.New("pool is full")

	// ErrCircuitOpen 表示熔断器处于打开状态，本次获取没有尝试任何连接
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrAcquireTimeout 表示在超时时间内没有可用连接
	ErrAcquireTimeout = errors.New("acquire connection timeout")

	// ErrConnectionCreateFailed 表示后端拨号失败
	ErrConnectionCreateFailed = errors.New("failed to create connection")

	// ErrConnectionDestroyFailed 表示后端关闭连接失败，连接已经从池中移除
	ErrConnectionDestroyFailed = errors.New("failed to destroy connection")

	// ErrConnectionNotFound 表示池中没有该连接
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrConnectionNotActive 表示归还的连接并未被借出
	ErrConnectionNotActive = errors.New("connection is not active")

	// ErrNoHealthyConnection 表示负载均衡没有可选的空闲健康连接
	ErrNoHealthyConnection = errors.New("no idle healthy connection")

	// ErrManagerStopped 表示管理器已经停止
	ErrManagerStopped = errors.New("pool manager is stopped")

	// ErrInvalidConfig 表示连接池配置不合法
	ErrInvalidConfig = errors.New("invalid pool config")
)
