package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// interactiveCmd 表示交互式命令，用于启动一个REPL
var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start an interactive session",
	Long: `Start an interactive session with poolctl.
Pools live for the whole session, so connections acquired by one command
can be released by a later one. Type 'exit' or 'quit' to exit, or press Ctrl+C.`,
	Aliases: []string{"i", "shell"},
	Run: func(cmd *cobra.Command, args []string) {
		runInteractiveMode()
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}

func runInteractiveMode() {
	fmt.Println("poolctl Interactive Mode")
	fmt.Println("Type 'help' for available commands or 'exit' to quit")

	// 设置信号处理，捕获Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	doneChan := make(chan struct{})
	go func() {
		if _, ok := <-sigChan; ok {
			fmt.Println("\nReceived interrupt signal, exiting...")
			close(doneChan)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		select {
		case <-doneChan:
			return
		default:
		}

		fmt.Print("> ")

		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if input == "exit" || input == "quit" {
			fmt.Println("Exiting...")
			return
		}

		executeCommand(input)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

func executeCommand(input string) {
	// 使用shellwords解析命令行参数
	parser := shellwords.NewParser()
	args, err := parser.Parse(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing command: %v\n", err)
		return
	}

	if len(args) == 0 {
		return
	}
	if args[0] == "interactive" || args[0] == "i" || args[0] == "shell" {
		fmt.Println("Already in interactive mode.")
		return
	}

	cmd := rootCmd
	cmd.SetArgs(args)

	// 如果遇到错误，捕获错误而不是退出程序
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	// 同一个命令对象会被反复执行，参数需要恢复默认值
	resetFlags(rootCmd)
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
