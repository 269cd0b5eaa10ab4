package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/receipt-analyzer/pkg/logger"
	"github.com/feichai0017/receipt-analyzer/pkg/queue"
)

// AnalysisHandler 处理一个异步分析任务
type AnalysisHandler interface {
	HandleAnalysisTask(ctx context.Context, payload *queue.AnalysisPayload) error
}

type ReceiptWorker struct {
	BaseWorker
	handler AnalysisHandler
}

func NewReceiptWorker(cfg *Config, handler AnalysisHandler, log logger.Logger) *ReceiptWorker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
		},
	)

	w := &ReceiptWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log.Named("worker"),
			stopChan: make(chan struct{}),
		},
		handler: handler,
	}

	// 注册任务处理器
	w.registerHandlers()
	return w
}

func (w *ReceiptWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeReceiptAnalyze, w.handleReceiptAnalyze)
}

// handleReceiptAnalyze never asks asynq to retry; failures are already
// recorded on the analysis record.
func (w *ReceiptWorker) handleReceiptAnalyze(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseAnalysisTask(t)
	if err != nil {
		w.logger.Error("Invalid analysis task",
			logger.Int("payloadBytes", len(t.Payload())),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	ctx = logger.ContextWithRequestID(ctx, payload.ID)
	log := logger.FromContext(ctx, w.logger)
	log.Info("Processing analysis task",
		logger.String("type", string(payload.DetectedType)),
		logger.Int("bytes", len(payload.Data)),
	)

	w.writeResult(t, `{"status":"running"}`)

	if err := w.handler.HandleAnalysisTask(ctx, payload); err != nil {
		w.writeResult(t, `{"status":"failed"}`)
		log.Warn("Analysis task failed", logger.Error(err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	w.writeResult(t, `{"status":"completed"}`)
	return nil
}

func (w *ReceiptWorker) writeResult(t *asynq.Task, status string) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	if _, err := rw.Write([]byte(status)); err != nil {
		w.logger.Error("Failed to write task status", logger.Error(err))
	}
}

func (w *ReceiptWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()
	return nil
}
