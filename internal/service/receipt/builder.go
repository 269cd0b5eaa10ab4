package receipt

import (
	"errors"
	"fmt"
	"io"

	"github.com/feichai0017/receipt-analyzer/config"
	"github.com/feichai0017/receipt-analyzer/internal/agent/analysis"
	"github.com/feichai0017/receipt-analyzer/internal/agent/document/image"
	"github.com/feichai0017/receipt-analyzer/internal/agent/llm"
	"github.com/feichai0017/receipt-analyzer/internal/utils/validator"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
	"github.com/feichai0017/receipt-analyzer/pkg/queue"
	"github.com/feichai0017/receipt-analyzer/pkg/storage"
)

// GetService 根据配置构建服务, 返回的 close 函数释放存储, 队列和模型连接
func GetService(cfg *config.Config, log logger.Logger) (*ReceiptService, func() error, error) {
	allowed, err := cfg.AllowedTypes()
	if err != nil {
		return nil, nil, err
	}

	// 初始化结果存储
	store, err := storage.NewStorage(storage.Options{
		Type:          storage.StorageType(cfg.Store.Backend),
		TTL:           cfg.Store.TTL,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	var closers []io.Closer
	if c, ok := store.(io.Closer); ok {
		closers = append(closers, c)
	}
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}

	// 初始化模型
	provider, err := llm.NewProvider(log, cfg.LLM)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to initialize model provider: %w", err)
	}

	orchestrator, err := analysis.NewOrchestrator(log, provider, analysis.Config{
		MaxPayloadSize: cfg.Analysis.MaxPayloadSize,
		Retry:          cfg.RetryPolicy(),
	})
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to initialize analysis: %w", err)
	}

	if c, ok := provider.(io.Closer); ok {
		closers = append(closers, c)
	}

	// 初始化队列
	var q queue.Queue
	if cfg.Queue.Enabled {
		aq := queue.NewAsynqQueue(&queue.QueueConfig{
			RedisAddr:      cfg.Redis.Addr,
			RedisPassword:  cfg.Redis.Password,
			RedisDB:        cfg.Redis.DB,
			ProcessTimeout: cfg.Queue.ProcessTimeout,
			Retention:      cfg.Store.TTL,
		})
		q = aq
		closers = append(closers, aq)
	}

	svc := NewService(
		validator.NewContentValidator(log, validator.ValidatorConfig{
			MaxFileSize:  cfg.Upload.MaxFileSize,
			AllowedTypes: allowed,
		}),
		image.NewNormalizer(log, image.NormalizerConfig{
			MaxWidth:    cfg.Preprocess.MaxWidth,
			JPEGQuality: cfg.Preprocess.JPEGQuality,
			AutoOrient:  cfg.Preprocess.AutoOrient,
			MaxPixels:   cfg.Preprocess.MaxPixels,
		}, nil),
		orchestrator,
		q,
		store,
		log,
		&ServiceConfig{
			MaxFileSize:     cfg.Upload.MaxFileSize,
			QueuePriority:   cfg.Queue.Priority,
			RetentionPeriod: cfg.Store.TTL,
		},
	)

	return svc, closeAll, nil
}
