package cmd

import (
	"context"
	"fmt"

	"github.com/fyerfyer/connpool/internal/poolservice"
	"github.com/spf13/cobra"
)

// acquireCmd 表示acquire命令，用于从连接池借出连接
var acquireCmd = &cobra.Command{
	Use:   "acquire [pool-name]",
	Short: "Acquire connections from a pool",
	Long: `Check out one or more connections from a pool.
The connections stay active until released with the release command.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		poolName := args[0]

		timeout, _ := cmd.Flags().GetDuration("timeout")
		balanced, _ := cmd.Flags().GetBool("balanced")
		count, _ := cmd.Flags().GetInt("count")

		if count <= 0 {
			count = 1
		}

		service, err := GetPoolService()
		if err != nil {
			return err
		}

		for i := 0; i < count; i++ {
			conn, err := service.Acquire(context.Background(), poolName, timeout, balanced)
			if err != nil {
				if i == 0 {
					return fmt.Errorf("failed to acquire connection: %w", err)
				}
				fmt.Printf("Acquired %d connection(s) before encountering an error: %v\n", i, err)
				break
			}
			fmt.Println(poolservice.FormatConnection(conn))
		}

		return nil
	},
}

// releaseCmd 表示release命令，用于归还连接
var releaseCmd = &cobra.Command{
	Use:   "release [pool-name] [connection-id]",
	Short: "Release a connection back to its pool",
	Long: `Return an active connection to its pool.
With --error the connection's error count is incremented first, and it is destroyed
once the count exceeds the pool's retry attempts.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		poolName, id := args[0], args[1]
		failed, _ := cmd.Flags().GetBool("error")

		service, err := GetPoolService()
		if err != nil {
			return err
		}

		if err := service.Release(poolName, id, failed); err != nil {
			return fmt.Errorf("failed to release connection: %w", err)
		}

		fmt.Printf("Connection '%s' released to pool '%s'.\n", id, poolName)
		return nil
	},
}

// balanceCmd 表示balance命令，显示负载均衡将选中的连接
var balanceCmd = &cobra.Command{
	Use:   "balance [pool-name]",
	Short: "Show the connection the load balancer would pick",
	Long: `Run the pool's load balancing strategy over its idle healthy connections
and display the selected connection without checking it out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := GetPoolService()
		if err != nil {
			return err
		}

		conn, err := service.Balance(args[0])
		if err != nil {
			return fmt.Errorf("failed to balance: %w", err)
		}

		fmt.Println(poolservice.FormatConnection(conn))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(acquireCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(balanceCmd)

	acquireCmd.Flags().Duration("timeout", 0, "Acquire timeout (0 uses the pool's acquire timeout)")
	acquireCmd.Flags().BoolP("balanced", "b", false, "Pick the idle connection with the load balancer")
	acquireCmd.Flags().IntP("count", "c", 1, "Number of connections to acquire")

	releaseCmd.Flags().Bool("error", false, "Record a usage error on the connection before releasing")
}
