// Package config 负责加载 poolctl 的 YAML 配置，并允许用 CONNPOOL_ 前缀的环境变量覆盖
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyerfyer/connpool/pool"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 是环境变量前缀，例如 CONNPOOL_LOGGING_LEVEL
const EnvPrefix = "CONNPOOL"

// 驱动类型
const (
	DriverSimulated = "simulated"
	DriverSQL       = "sql"
	DriverRedis     = "redis"
	DriverHTTP      = "http"
	DriverGRPC      = "grpc"
)

// Config 是 poolctl 的完整配置
type Config struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Pools   []PoolSpec    `yaml:"pools" mapstructure:"pools"`
}

// LoggingConfig 定义日志输出
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	OutputFile string `yaml:"output_file,omitempty" mapstructure:"output_file"`
}

// MonitorConfig 定义空闲回收和指标导出的周期
type MonitorConfig struct {
	Interval string `yaml:"interval" mapstructure:"interval"`
}

// MetricsConfig 定义 OpenTelemetry 指标
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	MeterName string `yaml:"meter_name" mapstructure:"meter_name"`
}

// EndpointSpec 描述驱动连接的后端，不同驱动使用不同字段
type EndpointSpec struct {
	// sql: 数据库驱动名（pgx 或 sqlite3）和连接字符串
	SQLDriver string `yaml:"sql_driver,omitempty" mapstructure:"sql_driver"`
	DSN       string `yaml:"dsn,omitempty" mapstructure:"dsn"`

	// redis
	Addr     string `yaml:"addr,omitempty" mapstructure:"addr"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`

	// http
	URL        string `yaml:"url,omitempty" mapstructure:"url"`
	HealthPath string `yaml:"health_path,omitempty" mapstructure:"health_path"`

	// grpc
	Target        string `yaml:"target,omitempty" mapstructure:"target"`
	HealthService string `yaml:"health_service,omitempty" mapstructure:"health_service"`

	// simulated：覆盖默认地址，并可注入失败率
	Host        string  `yaml:"host,omitempty" mapstructure:"host"`
	Port        int     `yaml:"port,omitempty" mapstructure:"port"`
	Database    string  `yaml:"database,omitempty" mapstructure:"database"`
	FailureRate float64 `yaml:"failure_rate,omitempty" mapstructure:"failure_rate"`
}

// PoolSpec 描述一个连接池。数值为零、时长为空的字段使用 pool.DefaultPoolConfig 的取值。
type PoolSpec struct {
	Name     string       `yaml:"name" mapstructure:"name"`
	Type     string       `yaml:"type" mapstructure:"type"`
	Driver   string       `yaml:"driver" mapstructure:"driver"`
	Endpoint EndpointSpec `yaml:"endpoint,omitempty" mapstructure:"endpoint"`

	// Enabled 为空时视为启用
	Enabled *bool `yaml:"enabled,omitempty" mapstructure:"enabled"`

	MaxConnections          int     `yaml:"max_connections,omitempty" mapstructure:"max_connections"`
	MinConnections          int     `yaml:"min_connections,omitempty" mapstructure:"min_connections"`
	IdleTimeout             string  `yaml:"idle_timeout,omitempty" mapstructure:"idle_timeout"`
	ConnectionTimeout       string  `yaml:"connection_timeout,omitempty" mapstructure:"connection_timeout"`
	AcquireTimeout          string  `yaml:"acquire_timeout,omitempty" mapstructure:"acquire_timeout"`
	HealthCheckInterval     string  `yaml:"health_check_interval,omitempty" mapstructure:"health_check_interval"`
	RetryAttempts           int     `yaml:"retry_attempts,omitempty" mapstructure:"retry_attempts"`
	RetryDelay              string  `yaml:"retry_delay,omitempty" mapstructure:"retry_delay"`
	CircuitBreakerThreshold int     `yaml:"circuit_breaker_threshold,omitempty" mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   string  `yaml:"circuit_breaker_timeout,omitempty" mapstructure:"circuit_breaker_timeout"`
	LoadBalancingStrategy   string  `yaml:"load_balancing_strategy,omitempty" mapstructure:"load_balancing_strategy"`
	DialRate                float64 `yaml:"dial_rate,omitempty" mapstructure:"dial_rate"`
	DialBurst               int     `yaml:"dial_burst,omitempty" mapstructure:"dial_burst"`
}

// Default 返回默认配置：postgres、redis、http 三个使用模拟驱动的连接池
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Monitor: MonitorConfig{
			Interval: "30s",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			MeterName: "github.com/fyerfyer/connpool",
		},
		Pools: []PoolSpec{
			{
				Name:                    "postgres",
				Type:                    string(pool.TypePostgres),
				Driver:                  DriverSimulated,
				MaxConnections:          20,
				MinConnections:          5,
				IdleTimeout:             "5m",
				ConnectionTimeout:       "10s",
				AcquireTimeout:          "5s",
				HealthCheckInterval:     "30s",
				RetryAttempts:           3,
				RetryDelay:              "1s",
				CircuitBreakerThreshold: 5,
				CircuitBreakerTimeout:   "1m",
				LoadBalancingStrategy:   string(pool.StrategyLeastConnections),
			},
			{
				Name:                    "redis",
				Type:                    string(pool.TypeRedis),
				Driver:                  DriverSimulated,
				MaxConnections:          15,
				MinConnections:          3,
				IdleTimeout:             "3m",
				ConnectionTimeout:       "5s",
				AcquireTimeout:          "3s",
				HealthCheckInterval:     "20s",
				RetryAttempts:           3,
				RetryDelay:              "500ms",
				CircuitBreakerThreshold: 3,
				CircuitBreakerTimeout:   "30s",
				LoadBalancingStrategy:   string(pool.StrategyRoundRobin),
			},
			{
				Name:                    "http",
				Type:                    string(pool.TypeHTTP),
				Driver:                  DriverSimulated,
				MaxConnections:          50,
				MinConnections:          10,
				IdleTimeout:             "2m",
				ConnectionTimeout:       "8s",
				AcquireTimeout:          "2s",
				HealthCheckInterval:     "1m",
				RetryAttempts:           2,
				RetryDelay:              "2s",
				CircuitBreakerThreshold: 10,
				CircuitBreakerTimeout:   "2m",
				LoadBalancingStrategy:   string(pool.StrategyWeighted),
			},
		},
	}
}

// Load 从文件和环境变量加载配置。path 为空时在常用位置查找 poolctl.yaml，找不到文件时使用默认配置。
// 文件中声明了 pools 时完全替换默认的连接池列表。
func Load(path string) (*Config, error) {
	cfg := Default()
	defaultPools := cfg.Pools
	cfg.Pools = nil

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("poolctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.config/connpool")
		v.AddConfigPath("/etc/connpool")
	}

	// 标量键需要默认值，环境变量才能覆盖它们
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output_file", cfg.Logging.OutputFile)
	v.SetDefault("monitor.interval", cfg.Monitor.Interval)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.meter_name", cfg.Metrics.MeterName)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Pools) == 0 {
		cfg.Pools = defaultPools
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Write 将配置写入 YAML 文件，必要时创建目录
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate 检查配置是否合法
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q (must be 'json' or 'console')", c.Logging.Format)
	}

	if _, err := c.MonitorInterval(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Pools))
	for _, spec := range c.Pools {
		if spec.Name == "" {
			return fmt.Errorf("pool name cannot be empty")
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate pool %q", spec.Name)
		}
		seen[spec.Name] = true

		switch spec.Driver {
		case DriverSimulated, DriverSQL, DriverRedis, DriverHTTP, DriverGRPC:
		default:
			return fmt.Errorf("pool %s: unknown driver %q", spec.Name, spec.Driver)
		}

		if _, err := spec.PoolConfig(); err != nil {
			return fmt.Errorf("pool %s: %w", spec.Name, err)
		}
	}
	return nil
}

// MonitorInterval 解析监控周期
func (c *Config) MonitorInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Monitor.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid monitor interval %q: %w", c.Monitor.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("monitor interval must be positive")
	}
	return d, nil
}

// Pool 按名称查找连接池配置
func (c *Config) Pool(name string) (PoolSpec, bool) {
	for _, spec := range c.Pools {
		if spec.Name == name {
			return spec, true
		}
	}
	return PoolSpec{}, false
}

// PoolConfig 将 PoolSpec 转换为校验过的 pool.PoolConfig
func (s PoolSpec) PoolConfig() (pool.PoolConfig, error) {
	cfg := pool.DefaultPoolConfig()

	if s.Enabled != nil {
		cfg.Enabled = *s.Enabled
	}
	if s.MaxConnections != 0 {
		cfg.MaxConnections = s.MaxConnections
	}
	if s.MinConnections != 0 {
		cfg.MinConnections = s.MinConnections
	}
	if s.RetryAttempts != 0 {
		cfg.RetryAttempts = s.RetryAttempts
	}
	if s.CircuitBreakerThreshold != 0 {
		cfg.CircuitBreakerThreshold = s.CircuitBreakerThreshold
	}
	if s.LoadBalancingStrategy != "" {
		cfg.LoadBalancingStrategy = pool.Strategy(s.LoadBalancingStrategy)
	}
	cfg.DialRate = s.DialRate
	cfg.DialBurst = s.DialBurst

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"idle_timeout", s.IdleTimeout, &cfg.IdleTimeout},
		{"connection_timeout", s.ConnectionTimeout, &cfg.ConnectionTimeout},
		{"acquire_timeout", s.AcquireTimeout, &cfg.AcquireTimeout},
		{"health_check_interval", s.HealthCheckInterval, &cfg.HealthCheckInterval},
		{"retry_delay", s.RetryDelay, &cfg.RetryDelay},
		{"circuit_breaker_timeout", s.CircuitBreakerTimeout, &cfg.CircuitBreakerTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return pool.PoolConfig{}, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return pool.PoolConfig{}, err
	}
	return cfg, nil
}
