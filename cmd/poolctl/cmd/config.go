package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fyerfyer/connpool/internal/config"
	"github.com/spf13/cobra"
)

// configCmd 是配置相关子命令的父命令
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the poolctl configuration file",
}

// configInitCmd 写出默认配置
var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "poolctl.yaml"
		if len(args) == 1 {
			path = args[0]
		}

		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}

		if err := config.Write(path, config.Default()); err != nil {
			return err
		}

		fmt.Printf("Default configuration written to %s\n", path)
		return nil
	},
}

// metricsCmd 采集并显示 OpenTelemetry gauge
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Collect the pool gauges published through OpenTelemetry",
	Long: `Collect the connpool.connections gauge from the in-process meter provider.
Gauges are refreshed by the monitor loop; --refresh exports them immediately.
Requires metrics.enabled in the configuration or the --metrics flag.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := GetPoolService()
		if err != nil {
			return err
		}
		if exporter == nil {
			return errors.New("metrics are disabled, enable them with --metrics or metrics.enabled")
		}

		refresh, _ := cmd.Flags().GetBool("refresh")
		if refresh {
			// 回收过程会同时导出每个池的 gauge
			service.Reap(context.Background())
		}

		points, err := exporter.Collect(context.Background())
		if err != nil {
			return err
		}
		if len(points) == 0 {
			fmt.Println("No gauges recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "POOL\tKIND\tVALUE")
		for _, p := range points {
			fmt.Fprintf(w, "%s\t%s\t%d\n", p.Pool, p.Kind, p.Value)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(metricsCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	metricsCmd.Flags().Bool("refresh", true, "Export the gauges before collecting")
}
