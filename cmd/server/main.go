package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyerfyer/contract-auditor/api"
	"github.com/fyerfyer/contract-auditor/api/middleware"
	"github.com/fyerfyer/contract-auditor/config"
	"github.com/fyerfyer/contract-auditor/internal/app"
	"github.com/gin-gonic/gin"
)

// 命令行参数，显式指定时覆盖配置文件
type flags struct {
	ConfigFile string // 配置文件路径
	Port       int    // 服务端口
	Mode       string // 运行模式 (debug/release)
	LogLevel   string // 日志级别
	Worker     bool   // 是否在进程内运行分析任务消费者
	set        map[string]bool
}

func main() {
	f := parseFlags()

	cfg, err := config.Load(f.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, f)

	if err := middleware.ConfigureLogger(middleware.LogOptions{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		log.Fatalf("Failed to configure logger: %v", err)
	}
	logger := middleware.GetLogger()
	logger.Info("Starting Contract Auditor...")

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize application: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release resources")
		}
	}()

	// 进程内消费分析任务
	var stopWorker func()
	if f.Worker && a.Queue != nil {
		worker, err := a.NewWorker()
		if err != nil {
			logger.Fatalf("Failed to create worker: %v", err)
		}
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start worker: %v", err)
		}
		stopWorker = worker.Stop
		logger.Info("Analysis worker started")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(a),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 优雅关闭
	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if stopWorker != nil {
		stopWorker()
	}

	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() flags {
	f := flags{}

	flag.StringVar(&f.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.IntVar(&f.Port, "port", 8080, "Server port")
	flag.StringVar(&f.Mode, "mode", "release", "Server mode (debug/release)")
	flag.StringVar(&f.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	flag.BoolVar(&f.Worker, "worker", true, "Run the analysis worker in this process when the queue is enabled")
	flag.Parse()

	f.set = make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f
}

// applyFlags 用显式指定的命令行参数覆盖配置
func applyFlags(cfg *config.Config, f flags) {
	if f.set["port"] {
		cfg.Server.Port = f.Port
	}
	if f.set["mode"] {
		cfg.Server.Mode = f.Mode
	}
	if f.set["log-level"] {
		cfg.Log.Level = f.LogLevel
	}
}
