package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fyerfyer/connpool/internal/poolservice"
	"github.com/spf13/cobra"
)

// statsCmd 表示stats命令，用于显示连接池的统计信息
var statsCmd = &cobra.Command{
	Use:   "stats [pool-name]",
	Short: "Display pool statistics",
	Long: `Display detailed statistics for one pool, or for every pool when no name is given.
This includes connection counts, utilisation, health check pass rate and failure rate.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		service, err := GetPoolService()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			stats, err := service.PoolStats(args[0])
			if err != nil {
				return fmt.Errorf("failed to get pool statistics: %w", err)
			}
			if asJSON {
				return printJSON(stats)
			}
			fmt.Printf("Statistics for pool '%s':\n\n", args[0])
			fmt.Print(poolservice.FormatPoolStats(stats))
			return nil
		}

		all := service.AllStats()
		if asJSON {
			return printJSON(all)
		}
		for i, info := range service.ListPools() {
			stats, ok := all[info.Name]
			if !ok {
				continue
			}
			if i > 0 {
				fmt.Println("---")
			}
			fmt.Print(poolservice.FormatPoolStats(stats))
		}
		return nil
	},
}

// healthCmd 表示health命令，用于显示连接池的健康状况
var healthCmd = &cobra.Command{
	Use:   "health [pool-name]",
	Short: "Display pool health",
	Long: `Evaluate the health of one pool, or summarise every pool when no name is given.
With --check a health check is run first instead of reporting the last result.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")
		asJSON, _ := cmd.Flags().GetBool("json")

		service, err := GetPoolService()
		if err != nil {
			return err
		}

		if check {
			names := args
			if len(names) == 0 {
				for _, info := range service.ListPools() {
					names = append(names, info.Name)
				}
			}
			for _, name := range names {
				if _, err := service.CheckHealth(context.Background(), name); err != nil {
					return fmt.Errorf("health check failed: %w", err)
				}
			}
		}

		if len(args) == 1 {
			h, err := service.PoolHealth(args[0])
			if err != nil {
				return fmt.Errorf("failed to get pool health: %w", err)
			}
			if asJSON {
				return printJSON(h)
			}
			fmt.Print(poolservice.FormatPoolHealth(h))
			return nil
		}

		summary := service.HealthSummary()
		if asJSON {
			return printJSON(summary)
		}
		fmt.Print(poolservice.FormatHealthSummary(summary))
		return nil
	},
}

// printJSON 以缩进 JSON 输出
func printJSON(v interface{}) error {
	data, err := poolservice.SerializeStats(v)
	if err != nil {
		return fmt.Errorf("failed to serialize: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)

	statsCmd.Flags().Bool("json", false, "Print statistics as JSON")
	healthCmd.Flags().Bool("check", false, "Run a health check before reporting")
	healthCmd.Flags().Bool("json", false, "Print health as JSON")
}
