package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fyerfyer/connpool/internal/config"
	"github.com/fyerfyer/connpool/internal/logging"
	"github.com/fyerfyer/connpool/internal/metrics"
	"github.com/fyerfyer/connpool/internal/poolservice"
	"github.com/fyerfyer/connpool/pool"
	"github.com/spf13/cobra"
)

var (
	cfgFile       string
	logLevel      string
	enableMetrics bool

	// 连接池服务实例，所有命令共享，第一次使用时创建
	poolSvc   *poolservice.ManagerService
	exporter  *metrics.Exporter
	logCloser io.Closer
)

// rootCmd 表示CLI工具的根命令
var rootCmd = &cobra.Command{
	Use:   "poolctl",
	Short: "A CLI tool for managing connection pools",
	Long: `poolctl manages named connection pools in a single process.
Pools are created from the configuration file and can be added at runtime.
It supports acquiring and releasing connections, health checks, circuit breakers,
load balancing and live monitoring of pool statistics.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		// 如果没有子命令被调用，显示帮助信息
		cmd.Help()
	},
}

// Execute 运行根命令。不带参数时直接进入交互模式，连接池在整个会话内保持。
func Execute() {
	defer shutdown()

	if len(os.Args) == 1 {
		runInteractiveMode()
		return
	}

	if err := rootCmd.Execute(); err != nil {
		shutdown()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: poolctl.yaml in ., ./config, $HOME/.config/connpool)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&enableMetrics, "metrics", false, "publish pool gauges through OpenTelemetry")
}

// loadConfig 读取配置文件并应用命令行覆盖
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if enableMetrics {
		cfg.Metrics.Enabled = true
	}
	return cfg, nil
}

// GetPoolService 返回连接池服务实例，第一次调用时按配置创建
func GetPoolService() (*poolservice.ManagerService, error) {
	if poolSvc != nil {
		return poolSvc, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}

	var opts []pool.ManagerOption
	if cfg.Metrics.Enabled {
		exp, err := metrics.NewExporter(cfg.Metrics.MeterName)
		if err != nil {
			_ = closer.Close()
			return nil, err
		}
		exporter = exp
		opts = append(opts, pool.WithMetricsSink(exp.Sink()))
	}

	svc, err := poolservice.New(cfg, logger, opts...)
	if err != nil {
		if exporter != nil {
			_ = exporter.Shutdown(context.Background())
			exporter = nil
		}
		_ = closer.Close()
		return nil, fmt.Errorf("failed to start pool service: %w", err)
	}

	poolSvc = svc
	logCloser = closer
	return poolSvc, nil
}

// shutdown 停止连接池服务并关闭日志和指标，重复调用无副作用
func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if poolSvc != nil {
		if err := poolSvc.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing pools: %v\n", err)
		}
		poolSvc = nil
	}
	if exporter != nil {
		_ = exporter.Shutdown(ctx)
		exporter = nil
	}
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
}
