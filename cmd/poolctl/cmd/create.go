package cmd

import (
	"fmt"

	"github.com/fyerfyer/connpool/internal/config"
	"github.com/fyerfyer/connpool/internal/poolservice"
	"github.com/spf13/cobra"
)

// createCmd 表示create命令，用于创建新连接池
var createCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new connection pool",
	Long: `Create a new connection pool with the given driver and limits.
The endpoint flag is interpreted by the driver: a DSN for sql, host:port for redis,
a base URL for http and a target for grpc. The simulated driver needs no endpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		poolType, _ := cmd.Flags().GetString("type")
		driver, _ := cmd.Flags().GetString("driver")
		endpoint, _ := cmd.Flags().GetString("endpoint")
		sqlDriver, _ := cmd.Flags().GetString("sql-driver")
		maxConns, _ := cmd.Flags().GetInt("max")
		minConns, _ := cmd.Flags().GetInt("min")
		idleTimeout, _ := cmd.Flags().GetString("idle-timeout")
		acquireTimeout, _ := cmd.Flags().GetString("acquire-timeout")
		healthInterval, _ := cmd.Flags().GetString("health-interval")
		strategy, _ := cmd.Flags().GetString("strategy")
		failureRate, _ := cmd.Flags().GetFloat64("failure-rate")

		spec := config.PoolSpec{
			Name:                  name,
			Type:                  poolType,
			Driver:                driver,
			MaxConnections:        maxConns,
			MinConnections:        minConns,
			IdleTimeout:           idleTimeout,
			AcquireTimeout:        acquireTimeout,
			HealthCheckInterval:   healthInterval,
			LoadBalancingStrategy: strategy,
		}

		switch driver {
		case config.DriverSimulated:
			spec.Endpoint.FailureRate = failureRate
		case config.DriverSQL:
			spec.Endpoint.SQLDriver = sqlDriver
			spec.Endpoint.DSN = endpoint
		case config.DriverRedis:
			spec.Endpoint.Addr = endpoint
		case config.DriverHTTP:
			spec.Endpoint.URL = endpoint
		case config.DriverGRPC:
			spec.Endpoint.Target = endpoint
		default:
			return fmt.Errorf("invalid driver: %s", driver)
		}

		service, err := GetPoolService()
		if err != nil {
			return err
		}

		stats, err := service.CreatePool(spec)
		if err != nil {
			return fmt.Errorf("failed to create pool: %w", err)
		}

		fmt.Printf("Pool '%s' created successfully.\n", name)
		fmt.Print(poolservice.FormatPoolStats(stats))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringP("type", "t", "external", "Backend type: postgres, redis, http, grpc, sqlite or external")
	createCmd.Flags().StringP("driver", "d", config.DriverSimulated, "Driver: simulated, sql, redis, http or grpc")
	createCmd.Flags().StringP("endpoint", "e", "", "Driver endpoint (DSN, host:port, URL or target)")
	createCmd.Flags().String("sql-driver", "pgx", "database/sql driver for the sql driver: pgx or sqlite3")
	createCmd.Flags().Int("max", 0, "Maximum connections (0 for default)")
	createCmd.Flags().Int("min", 0, "Minimum connections (0 for default)")
	createCmd.Flags().String("idle-timeout", "", "Idle timeout, e.g. 5m")
	createCmd.Flags().String("acquire-timeout", "", "Acquire timeout, e.g. 2s")
	createCmd.Flags().String("health-interval", "", "Health check interval, e.g. 30s")
	createCmd.Flags().StringP("strategy", "s", "", "Load balancing strategy: round-robin, least-connections or weighted")
	createCmd.Flags().Float64("failure-rate", 0, "Injected failure rate for the simulated driver (0-1)")
}
