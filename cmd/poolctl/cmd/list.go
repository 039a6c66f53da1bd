package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fyerfyer/connpool/internal/poolservice"
	"github.com/spf13/cobra"
)

// listCmd 表示list命令，用于列出所有连接池
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all pools",
	Long:  `Display a list of all connection pools and their basic information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := GetPoolService()
		if err != nil {
			return err
		}

		pools := service.ListPools()
		if len(pools) == 0 {
			fmt.Println("No pools available.")
			return nil
		}

		verbose, _ := cmd.Flags().GetBool("verbose")

		if verbose {
			fmt.Printf("Found %d pool(s):\n\n", len(pools))
			for i, info := range pools {
				if i > 0 {
					fmt.Println("---")
				}
				fmt.Print(poolservice.FormatPoolInfo(info))
			}
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tDRIVER\tCONNECTIONS\tHEALTH\tBREAKER")
		for _, info := range pools {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d (%d active)\t%s\t%s\n",
				info.Name,
				info.Type,
				info.Driver,
				info.Total,
				info.Max,
				info.Active,
				info.HealthStatus,
				info.CircuitBreaker)
		}
		return w.Flush()
	},
}

// connectionsCmd 表示connections命令，用于列出连接池中的连接
var connectionsCmd = &cobra.Command{
	Use:     "connections [pool-name]",
	Short:   "List the connections of a pool",
	Aliases: []string{"conns"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := GetPoolService()
		if err != nil {
			return err
		}

		stats, err := service.PoolStats(args[0])
		if err != nil {
			return fmt.Errorf("failed to get pool: %w", err)
		}

		if len(stats.Connections) == 0 {
			fmt.Printf("Pool '%s' has no connections.\n", args[0])
			return nil
		}
		for _, c := range stats.Connections {
			fmt.Println(poolservice.FormatConnection(c))
		}
		return nil
	},
}

// removeCmd 表示remove命令，用于删除连接池
var removeCmd = &cobra.Command{
	Use:   "remove [pool-name]",
	Short: "Remove a pool and close its connections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := GetPoolService()
		if err != nil {
			return err
		}

		if err := service.RemovePool(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to remove pool: %w", err)
		}

		fmt.Printf("Pool '%s' removed.\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(removeCmd)

	listCmd.Flags().BoolP("verbose", "v", false, "Show detailed information for each pool")
}
