package main

import (
	"fmt"
	"os"

	"github.com/fyerfyer/contract-auditor/config"
	"github.com/fyerfyer/contract-auditor/internal/app"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootOptions 全局命令行参数
type rootOptions struct {
	configFile string
	logLevel   string
}

// appFactory 根据配置创建应用，测试中替换为共享实例
// 返回的函数负责释放资源
var appFactory = func(cfg *config.Config, logger *logrus.Logger) (*app.App, func(), error) {
	a, err := app.New(cfg, logger, app.WithoutQueue())
	if err != nil {
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release resources")
		}
	}, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "auditor",
		Short: "Analyze legal contracts for risky clauses",
		Long: `auditor indexes contract documents, locates the standard clauses
(IP ownership, price restrictions, non-compete, termination for convenience,
governing law), rates their risk and answers questions grounded in the text.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "config.yaml", "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug/info/warn/error)")

	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newQACmd(opts))
	cmd.AddCommand(newInspectCmd(opts))
	return cmd
}

// openApp 加载配置并装配应用
// 日志输出到标准错误，避免和命令结果混在一起
func openApp(opts *rootOptions) (*app.App, func(), error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
	}
	logger.SetLevel(level)

	return appFactory(cfg, logger)
}
