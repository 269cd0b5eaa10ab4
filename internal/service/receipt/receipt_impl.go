package receipt

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/receipt-analyzer/internal/agent/document"
	"github.com/feichai0017/receipt-analyzer/internal/apperr"
	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/internal/utils/validator"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
	"github.com/feichai0017/receipt-analyzer/pkg/queue"
	"github.com/feichai0017/receipt-analyzer/pkg/storage"
)

type ReceiptService struct {
	validator  *validator.ContentValidator
	normalizer document.Normalizer
	analyzer   Analyzer
	queue      queue.Queue
	storage    storage.Storage
	logger     logger.Logger
	config     *ServiceConfig
	now        func() time.Time
}

type ServiceConfig struct {
	MaxFileSize     int64
	QueuePriority   int
	RetentionPeriod time.Duration
}

// NewService wires the pipeline stages. q may be nil when asynchronous
// analysis is disabled.
func NewService(
	v *validator.ContentValidator,
	normalizer document.Normalizer,
	analyzer Analyzer,
	q queue.Queue,
	store storage.Storage,
	log logger.Logger,
	cfg *ServiceConfig,
) *ReceiptService {
	if cfg == nil {
		cfg = &ServiceConfig{
			MaxFileSize:     10 << 20,
			RetentionPeriod: 24 * time.Hour,
		}
	}
	return &ReceiptService{
		validator:  v,
		normalizer: normalizer,
		analyzer:   analyzer,
		queue:      q,
		storage:    store,
		logger:     log.Named("receipt"),
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *ReceiptService) AsyncEnabled() bool {
	return s.queue != nil
}

// prepare validates upload and returns the normalized bytes with the
// detected type and sanitized filename.
func (s *ReceiptService) prepare(ctx context.Context, upload *models.RawUpload) ([]byte, models.DetectedType, string, error) {
	log := logger.FromContext(ctx, s.logger)

	filename := validator.SanitizeFilename("")
	if upload != nil {
		filename = validator.SanitizeFilename(upload.Filename)
	}

	t, err := s.validator.Validate(upload)
	if err != nil {
		log.Info("Upload rejected", logger.String("filename", filename), logger.Error(err))
		return nil, t, filename, err
	}

	data, err := s.validator.ReadAll(upload, s.config.MaxFileSize)
	if err != nil {
		return nil, t, filename, err
	}

	normalized, err := s.normalizer.Normalize(data, t)
	if err != nil {
		log.Info("Normalization failed", logger.String("filename", filename), logger.Error(err))
		return nil, t, filename, err
	}

	log.Debug("Upload prepared",
		logger.String("filename", filename),
		logger.String("type", string(t)),
		logger.Int("bytes", len(data)),
		logger.Int("normalizedBytes", len(normalized)),
	)
	return normalized, t, filename, nil
}

// Analyze 同步处理单个上传
func (s *ReceiptService) Analyze(ctx context.Context, upload *models.RawUpload) (*models.AnalysisRecord, error) {
	data, t, filename, err := s.prepare(ctx, upload)
	if err != nil {
		return nil, err
	}

	result, err := s.analyzer.Analyze(ctx, data, t)
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := &models.AnalysisRecord{
		ID:           uuid.New().String(),
		Status:       models.StatusCompleted,
		Filename:     filename,
		DetectedType: t,
		Result:       result,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.storage.Save(ctx, record); err != nil {
		// the caller still gets the result; only later lookups are affected
		logger.FromContext(ctx, s.logger).Error("Failed to store record",
			logger.String("id", record.ID),
			logger.Error(err),
		)
	}
	return record, nil
}

// Submit 校验并入队异步分析任务
func (s *ReceiptService) Submit(ctx context.Context, upload *models.RawUpload) (*models.AnalysisRecord, error) {
	if s.queue == nil {
		return nil, apperr.New(apperr.CodeConflict, "asynchronous analysis is not enabled")
	}
	log := logger.FromContext(ctx, s.logger)

	data, t, filename, err := s.prepare(ctx, upload)
	if err != nil {
		return nil, err
	}
	// 入队前拒绝 worker 必然拒绝的任务
	if err := s.analyzer.Check(data, t); err != nil {
		log.Info("Upload rejected before enqueue", logger.String("filename", filename), logger.Error(err))
		return nil, err
	}

	now := s.now()
	record := &models.AnalysisRecord{
		ID:           uuid.New().String(),
		Status:       models.StatusPending,
		Filename:     filename,
		DetectedType: t,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.storage.Save(ctx, record); err != nil {
		log.Error("Failed to store record", logger.String("id", record.ID), logger.Error(err))
		return nil, apperr.Wrap(apperr.CodeInternal, apperr.MsgInternal, err)
	}

	payload := &queue.AnalysisPayload{
		ID:           record.ID,
		Filename:     filename,
		DetectedType: t,
		Data:         data,
		Priority:     s.config.QueuePriority,
		CreatedAt:    now,
	}
	if err := s.queue.Enqueue(ctx, payload); err != nil {
		log.Error("Failed to enqueue analysis", logger.String("id", record.ID), logger.Error(err))
		if delErr := s.storage.Delete(ctx, record.ID); delErr != nil {
			log.Warn("Failed to remove orphaned record", logger.String("id", record.ID), logger.Error(delErr))
		}
		return nil, apperr.Wrap(apperr.CodeServiceUnavailable, apperr.MsgServiceUnavailable, err)
	}

	log.Info("Analysis queued", logger.String("id", record.ID), logger.String("type", string(t)))
	return record, nil
}

// HandleAnalysisTask 实现异步分析逻辑
func (s *ReceiptService) HandleAnalysisTask(ctx context.Context, payload *queue.AnalysisPayload) error {
	log := logger.FromContext(ctx, s.logger)

	record, err := s.storage.Get(ctx, payload.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		record = &models.AnalysisRecord{
			ID:           payload.ID,
			Filename:     payload.Filename,
			DetectedType: payload.DetectedType,
			CreatedAt:    payload.CreatedAt,
		}
	case err != nil:
		return err
	case record.Status == models.StatusCancelled:
		log.Info("Skipping cancelled analysis")
		return nil
	}

	result, err := s.analyzer.Analyze(ctx, payload.Data, payload.DetectedType)
	record.UpdatedAt = s.now()
	switch {
	case err == nil:
		record.Status = models.StatusCompleted
		record.Result = result
	case errors.Is(ctx.Err(), context.Canceled):
		record.Status = models.StatusCancelled
	default:
		record.Status = models.StatusFailed
		record.Error = errorBody(err)
	}

	// the task context may already be done; the record must still be written
	if saveErr := s.storage.Save(context.WithoutCancel(ctx), record); saveErr != nil {
		log.Error("Failed to store record", logger.Error(saveErr))
		return errors.Join(err, saveErr)
	}
	return err
}

// GetRecord 获取分析记录
func (s *ReceiptService) GetRecord(ctx context.Context, id string) (*models.AnalysisRecord, error) {
	record, err := s.storage.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "no analysis with this id")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, apperr.MsgInternal, err)
	}
	return record, nil
}

// CancelTask 取消排队中的分析
func (s *ReceiptService) CancelTask(ctx context.Context, id string) (*models.AnalysisRecord, error) {
	record, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusPending || s.queue == nil {
		return nil, apperr.New(apperr.CodeConflict, "only pending analyses can be cancelled")
	}

	if err := s.queue.CancelTask(ctx, id); err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			return nil, apperr.New(apperr.CodeConflict, "the analysis has already finished")
		}
		return nil, apperr.Wrap(apperr.CodeServiceUnavailable, apperr.MsgServiceUnavailable, err)
	}

	record.Status = models.StatusCancelled
	record.UpdatedAt = s.now()
	if err := s.storage.Save(ctx, record); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, apperr.MsgInternal, err)
	}

	s.logger.Info("Task cancelled", logger.String("taskId", id))
	return record, nil
}

// CleanupRecords 清理过期记录
func (s *ReceiptService) CleanupRecords(ctx context.Context) (int, error) {
	threshold := s.now().Add(-s.config.RetentionPeriod)

	removed, err := s.storage.CleanupBefore(ctx, threshold)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("Completed records cleanup",
		logger.Time("threshold", threshold),
		logger.Int("removed", removed),
	)
	return removed, nil
}

// errorBody keeps only the caller-safe part of err.
func errorBody(err error) *models.ErrorBody {
	if e, ok := apperr.As(err); ok {
		return &models.ErrorBody{Code: string(e.Code), Message: e.Message}
	}
	return &models.ErrorBody{Code: string(apperr.CodeInternal), Message: apperr.MsgInternal}
}
