package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"relay-trader/internal/app"
	"relay-trader/internal/config"
	"relay-trader/internal/log"
	"relay-trader/internal/store"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "relay-trader: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	db, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("打开数据库失败: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("relay-trader 启动",
		zap.String("listen", cfg.Server.Addr),
		zap.Bool("sandbox", cfg.Exchange.UseSandbox),
	)

	if err := app.New(cfg, logger, db).Run(ctx); err != nil {
		logger.Error("服务运行异常", zap.Error(err))
		return err
	}

	logger.Info("服务已安全退出")
	return nil
}
