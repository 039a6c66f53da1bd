package adapters

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fyerfyer/connpool/pool"
)

// HTTPClientConfig 定义 HTTP 客户端连接的配置
type HTTPClientConfig struct {
	// 后端基础地址，例如 https://api.external.com
	BaseURL string

	// 健康检查路径，探测时对 BaseURL+HealthPath 发送 GET
	HealthPath string

	// 拨号时是否立即执行一次健康检查
	VerifyOnDial bool

	Timeout               time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	DisableKeepAlives     bool
	TLSConfig             *tls.Config
}

// DefaultHTTPClientConfig 返回默认的 HTTP 客户端配置
func DefaultHTTPClientConfig(baseURL string) *HTTPClientConfig {
	return &HTTPClientConfig{
		BaseURL:               baseURL,
		HealthPath:            "/health",
		Timeout:               30 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		MaxIdleConnsPerHost:   1,
		MaxConnsPerHost:       1,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
}

// HTTPConn 是 HTTP 驱动拨出的连接，每个连接拥有独立的 Transport
type HTTPConn struct {
	Client    *http.Client
	BaseURL   string
	transport *http.Transport
}

// HTTPDriver 为每个池连接创建独立的 http.Client
type HTTPDriver struct {
	config   *HTTPClientConfig
	endpoint pool.Endpoint
}

// NewHTTPDriver 创建 HTTP 驱动
func NewHTTPDriver(config *HTTPClientConfig) (*HTTPDriver, error) {
	if config == nil {
		return nil, fmt.Errorf("HTTP configuration cannot be nil")
	}

	u, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: missing host", config.BaseURL)
	}

	return &HTTPDriver{
		config:   config,
		endpoint: urlEndpoint(u),
	}, nil
}

func urlEndpoint(u *url.URL) pool.Endpoint {
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		port = 80
		if u.Scheme == "https" {
			port = 443
		}
	}
	return pool.Endpoint{Host: u.Hostname(), Port: port}
}

// Dial 实现 pool.Driver，返回 *HTTPConn
func (d *HTTPDriver) Dial(ctx context.Context) (pool.Handle, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   d.config.DialTimeout,
			KeepAlive: d.config.KeepAlive,
		}).DialContext,
		MaxIdleConnsPerHost:   d.config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       d.config.MaxConnsPerHost,
		IdleConnTimeout:       d.config.IdleConnTimeout,
		TLSHandshakeTimeout:   d.config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: d.config.ResponseHeaderTimeout,
		DisableKeepAlives:     d.config.DisableKeepAlives,
		TLSClientConfig:       d.config.TLSConfig,
	}

	conn := &HTTPConn{
		Client: &http.Client{
			Transport: transport,
			Timeout:   d.config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		BaseURL:   d.config.BaseURL,
		transport: transport,
	}

	if d.config.VerifyOnDial {
		if _, err := d.probe(ctx, conn); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
	}
	return conn, nil
}

// Close 实现 pool.Driver，关闭 Transport 中的空闲连接
func (d *HTTPDriver) Close(ctx context.Context, h pool.Handle) error {
	conn, ok := h.(*HTTPConn)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}
	conn.transport.CloseIdleConnections()
	return nil
}

// Ping 实现 pool.Driver，5xx 响应视为探测失败
func (d *HTTPDriver) Ping(ctx context.Context, h pool.Handle) (time.Duration, error) {
	conn, ok := h.(*HTTPConn)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}
	return d.probe(ctx, conn)
}

func (d *HTTPDriver) probe(ctx context.Context, conn *HTTPConn) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, conn.BaseURL+d.config.HealthPath, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := conn.Client.Do(req)
	if err != nil {
		return 0, err
	}
	// 读完响应体才能复用底层连接
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode >= http.StatusInternalServerError {
		return 0, fmt.Errorf("health check returned %s", resp.Status)
	}
	return latency, nil
}

// Endpoint 实现 pool.Driver
func (d *HTTPDriver) Endpoint() pool.Endpoint {
	return d.endpoint
}

// WithHTTPClient 从池中借出 HTTP 连接执行 fn
func WithHTTPClient(ctx context.Context, m *pool.Manager, poolName string, fn func(*HTTPConn) error) error {
	return withHandle(ctx, m, poolName, fn)
}

// DoRequest 使用池中的客户端发送请求，5xx 响应计入连接错误次数。
// 调用方负责关闭返回的响应体。
func DoRequest(m *pool.Manager, poolName string, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := WithHTTPClient(req.Context(), m, poolName, func(conn *HTTPConn) error {
		var err error
		resp, err = conn.Client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("request to %s returned %s", req.URL, resp.Status)
		}
		return nil
	})
	if err != nil && resp == nil {
		return nil, err
	}
	return resp, err
}
