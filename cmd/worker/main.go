package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/receipt-analyzer/config"
	"github.com/feichai0017/receipt-analyzer/internal/service/receipt"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
	"github.com/feichai0017/receipt-analyzer/pkg/worker"
)

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		panic(err)
	}

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.OutputPaths),
		logger.WithInitialFields(map[string]interface{}{"service": "receipt-worker"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if !cfg.Queue.Enabled {
		log.Warn("queue.enabled is false; the server will not submit tasks to this worker")
	}

	// 创建收据服务
	svc, closeService, err := receipt.GetService(cfg, log)
	if err != nil {
		log.Error("Failed to create receipt service", logger.Error(err))
		os.Exit(1)
	}
	defer closeService()

	// 创建 worker
	receiptWorker := worker.NewReceiptWorker(&worker.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Queue.Concurrency,
		Queues:        cfg.Queue.Queues,
	}, svc, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 启动 worker
	if err := receiptWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started", logger.Int("concurrency", cfg.Queue.Concurrency))

	// 等待中断信号
	<-receiptWorker.Done()
	log.Info("Worker stopped")
}
