package cmd

import (
	"context"
	"fmt"

	"github.com/fyerfyer/connpool/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// updateCmd 表示update命令，用于部分更新连接池配置
var updateCmd = &cobra.Command{
	Use:   "update [pool-name]",
	Short: "Update a pool's configuration",
	Long: `Change selected settings of a running pool. Only the flags given are applied;
the merged configuration is validated before it takes effect.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		update, err := configUpdateFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		service, err := GetPoolService()
		if err != nil {
			return err
		}

		cfg, err := service.UpdatePool(args[0], update)
		if err != nil {
			return fmt.Errorf("failed to update pool: %w", err)
		}

		fmt.Printf("Pool '%s' updated.\n", args[0])
		fmt.Printf("Connections: %d-%d, strategy %s, enabled %t\n",
			cfg.MinConnections, cfg.MaxConnections, cfg.LoadBalancingStrategy, cfg.Enabled)
		fmt.Printf("Timeouts: idle %s, acquire %s, health check every %s\n",
			cfg.IdleTimeout, cfg.AcquireTimeout, cfg.HealthCheckInterval)
		fmt.Printf("Circuit breaker: %d failures, %s cooldown\n",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout)
		return nil
	},
}

// configUpdateFromFlags 只收集显式设置过的参数
func configUpdateFromFlags(flags *pflag.FlagSet) (pool.PoolConfigUpdate, error) {
	var update pool.PoolConfigUpdate

	if flags.Changed("enabled") {
		v, _ := flags.GetBool("enabled")
		update.Enabled = &v
	}
	if flags.Changed("max") {
		v, _ := flags.GetInt("max")
		update.MaxConnections = &v
	}
	if flags.Changed("min") {
		v, _ := flags.GetInt("min")
		update.MinConnections = &v
	}
	if flags.Changed("idle-timeout") {
		v, _ := flags.GetDuration("idle-timeout")
		update.IdleTimeout = &v
	}
	if flags.Changed("acquire-timeout") {
		v, _ := flags.GetDuration("acquire-timeout")
		update.AcquireTimeout = &v
	}
	if flags.Changed("health-interval") {
		v, _ := flags.GetDuration("health-interval")
		update.HealthCheckInterval = &v
	}
	if flags.Changed("retry-attempts") {
		v, _ := flags.GetInt("retry-attempts")
		update.RetryAttempts = &v
	}
	if flags.Changed("breaker-threshold") {
		v, _ := flags.GetInt("breaker-threshold")
		update.CircuitBreakerThreshold = &v
	}
	if flags.Changed("breaker-timeout") {
		v, _ := flags.GetDuration("breaker-timeout")
		update.CircuitBreakerTimeout = &v
	}
	if flags.Changed("strategy") {
		v, _ := flags.GetString("strategy")
		s := pool.Strategy(v)
		if !s.Valid() {
			return pool.PoolConfigUpdate{}, fmt.Errorf("invalid strategy: %s", v)
		}
		update.LoadBalancingStrategy = &s
	}
	return update, nil
}

// breakerCmd 表示breaker命令，用于向熔断器上报结果
var breakerCmd = &cobra.Command{
	Use:       "breaker [pool-name] [success|failure]",
	Short:     "Report a success or failure to a pool's circuit breaker",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"success", "failure"},
	RunE: func(cmd *cobra.Command, args []string) error {
		poolName, outcome := args[0], args[1]

		var success bool
		switch outcome {
		case "success":
			success = true
		case "failure":
		default:
			return fmt.Errorf("invalid outcome: %s, must be 'success' or 'failure'", outcome)
		}

		service, err := GetPoolService()
		if err != nil {
			return err
		}

		if err := service.RecordBreaker(poolName, success); err != nil {
			return fmt.Errorf("failed to record %s: %w", outcome, err)
		}

		stats, err := service.PoolStats(poolName)
		if err != nil {
			return err
		}
		fmt.Printf("Circuit breaker for '%s' is %s (%d failures).\n",
			poolName, stats.CircuitBreakerStatus, stats.CircuitBreaker.Failures)
		return nil
	},
}

// reapCmd 表示reap命令，立即回收过期连接
var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Destroy idle connections past their idle timeout",
	Long: `Run the idle reaper across every pool now instead of waiting for the monitor interval.
Idle connections that exceeded the idle timeout, their error budget or failed a health check are destroyed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := GetPoolService()
		if err != nil {
			return err
		}

		n := service.Reap(context.Background())
		fmt.Printf("Reaped %d connection(s).\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(breakerCmd)
	rootCmd.AddCommand(reapCmd)

	updateCmd.Flags().Bool("enabled", true, "Enable or disable the pool")
	updateCmd.Flags().Int("max", 0, "Maximum connections")
	updateCmd.Flags().Int("min", 0, "Minimum connections")
	updateCmd.Flags().Duration("idle-timeout", 0, "Idle timeout")
	updateCmd.Flags().Duration("acquire-timeout", 0, "Acquire timeout")
	updateCmd.Flags().Duration("health-interval", 0, "Health check interval")
	updateCmd.Flags().Int("retry-attempts", 0, "Retry attempts and per-connection error budget")
	updateCmd.Flags().Int("breaker-threshold", 0, "Failures before the circuit breaker opens")
	updateCmd.Flags().Duration("breaker-timeout", 0, "Circuit breaker cooldown")
	updateCmd.Flags().String("strategy", "", "Load balancing strategy: round-robin, least-connections or weighted")
}
