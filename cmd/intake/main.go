// Package main 提供 intake 命令行工具：本地校验与识别文件、批量上传到服务端、签发开发用 token、跟踪 Kafka 事件。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"course-intake/internal/config"
	"course-intake/pkg/log"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "intake: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Course file intake CLI",
		Long: `intake validates and classifies course files locally, uploads them in batches to the
intake server, mints development tokens and tails the event stream.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Init("warn", "console", "")
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "Config file to use")
	cmd.AddCommand(
		newValidateCmd(),
		newClassifyCmd(),
		newUploadCmd(),
		newTokenCmd(),
		newEventsCmd(),
	)
	return cmd
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
