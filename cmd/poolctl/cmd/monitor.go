package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// monitorCmd 表示monitor命令，用于实时监控连接池状态
var monitorCmd = &cobra.Command{
	Use:   "monitor [pool-name]",
	Short: "Monitor pool activity in real-time",
	Long: `Watch pool statistics update in real-time.
Press Ctrl+C to stop monitoring.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		poolName := args[0]

		interval, _ := cmd.Flags().GetInt("interval")
		refreshDuration := time.Duration(interval) * time.Millisecond

		service, err := GetPoolService()
		if err != nil {
			return err
		}

		if _, err := service.PoolStats(poolName); err != nil {
			return fmt.Errorf("pool '%s' not found", poolName)
		}

		// 设置信号处理，捕获Ctrl+C
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		fmt.Printf("Monitoring pool '%s' (refresh: %v, press Ctrl+C to stop)...\n\n",
			poolName, refreshDuration)

		// 记录前一次的统计信息，用于计算变化率
		var prevStats struct {
			Created   int64
			Destroyed int64
			Failed    int64
			Time      time.Time
		}
		prevStats.Time = time.Now()

		ticker := time.NewTicker(refreshDuration)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats, err := service.PoolStats(poolName)
				if err != nil {
					return fmt.Errorf("failed to get pool statistics: %w", err)
				}
				m := stats.Metrics

				now := time.Now()
				elapsed := now.Sub(prevStats.Time).Seconds()
				createRate := float64(m.Created-prevStats.Created) / elapsed
				destroyRate := float64(m.Destroyed-prevStats.Destroyed) / elapsed
				failRate := float64(m.Failed-prevStats.Failed) / elapsed

				fmt.Print("\033[H\033[2J") // 清屏，移动光标到左上角

				fmt.Printf("Time: %s\n\n", now.Format("15:04:05"))

				fmt.Printf("Pool: %s (%s)\n", poolName, stats.Type)
				fmt.Printf("Connections: %d/%d (%.1f%% utilized)\n",
					m.Total, stats.Config.MaxConnections, stats.UtilizationRate()*100)
				fmt.Printf("Active: %d, idle: %d, waiting: %d\n", m.Active, m.Idle, m.Waiting)
				fmt.Printf("Health: %s, circuit breaker %s\n", stats.HealthStatus, stats.CircuitBreakerStatus)

				fmt.Printf("Operations: %d created, %d destroyed, %d failed\n",
					m.Created, m.Destroyed, m.Failed)
				fmt.Printf("Rate: %.2f create/s, %.2f destroy/s, %.2f fail/s\n",
					createRate, destroyRate, failRate)

				if m.AvgAcquireTime > 0 || m.AvgResponseTime > 0 {
					fmt.Printf("Latency: acquire %s, response %s\n",
						m.AvgAcquireTime.Round(time.Microsecond), m.AvgResponseTime.Round(time.Microsecond))
				}

				if m.HealthCheckPassed > 0 || m.HealthCheckFailed > 0 {
					fmt.Printf("Health checks: %d passed, %d failed\n",
						m.HealthCheckPassed, m.HealthCheckFailed)
				}

				if m.CircuitBreakerOpen > 0 {
					fmt.Printf("Circuit breaker opened: %d\n", m.CircuitBreakerOpen)
				}

				prevStats.Created = m.Created
				prevStats.Destroyed = m.Destroyed
				prevStats.Failed = m.Failed
				prevStats.Time = now

			case <-sigChan:
				fmt.Println("\nMonitoring stopped.")
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().IntP("interval", "i", 1000, "Refresh interval in milliseconds")
}
