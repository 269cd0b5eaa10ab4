// Package analysis sends a normalized receipt image to a vision model and
// turns the reply into a validated AnalysisResult. Pre-flight checks run
// before any network call; model calls are retried on transient failures
// only; the reply is schema-checked, decoded and validated.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/feichai0017/receipt-analyzer/internal/agent/llm"
	"github.com/feichai0017/receipt-analyzer/internal/apperr"
	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

// Config 分析配置
type Config struct {
	MaxPayloadSize int64
	Retry          models.RetryPolicy
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimer sets the factory for backoff timers; one timer is created per
// Analyze call.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(o *Orchestrator) {
		o.retry.newTimer = newTimer
	}
}

// Orchestrator 收据分析编排器
type Orchestrator struct {
	provider   llm.Provider
	parser     *Parser
	config     Config
	retry      *retrier
	userPrompt string
	logger     logger.Logger
}

func NewOrchestrator(log logger.Logger, provider llm.Provider, cfg Config, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry policy needs at least one attempt, got %d", cfg.Retry.MaxAttempts)
	}

	log = log.Named("analysis")
	parser, err := NewParser(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create parser: %w", err)
	}

	o := &Orchestrator{
		provider:   provider,
		parser:     parser,
		config:     cfg,
		retry:      &retrier{policy: cfg.Retry},
		userPrompt: BuildUserPrompt(parser.SchemaJSON()),
		logger:     log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Analyze extracts structured receipt data from normalized image bytes.
// Every failure is an *apperr.Error whose message is safe to show callers.
func (o *Orchestrator) Analyze(ctx context.Context, data []byte, t models.DetectedType) (*models.AnalysisResult, error) {
	log := logger.FromContext(ctx, o.logger)

	if err := o.Check(data, t); err != nil {
		return nil, err
	}

	req := &llm.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   o.userPrompt,
		Media:        llm.Media{MIMEType: t.MIMEType(), Data: data},
	}

	start := time.Now()
	var text string
	attempts, err := o.retry.do(ctx, func(ctx context.Context) error {
		out, err := o.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		text = out
		return nil
	}, func(err error, next time.Duration) {
		log.Warn("Model call failed, retrying",
			logger.String("provider", o.provider.Name()),
			logger.Duration("backoff", next),
			logger.Error(err),
		)
	})
	if err != nil {
		return nil, o.invocationError(log, err, attempts)
	}

	result, err := o.parser.Parse(text)
	if err != nil {
		return nil, err
	}

	log.Info("Receipt analyzed",
		logger.String("provider", o.provider.Name()),
		logger.Int("attempts", attempts),
		logger.Int("items", len(result.Items)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// Check runs the pre-flight checks of Analyze without calling the model.
func (o *Orchestrator) Check(data []byte, t models.DetectedType) error {
	if len(data) == 0 || t == "" {
		return apperr.New(apperr.CodeInvalidInput, "image data and type are required")
	}
	if t == models.TypePDF {
		return apperr.New(apperr.CodeUnsupportedFormat, "PDF documents cannot be analyzed, upload an image")
	}
	if !t.IsImage() {
		return apperr.New(apperr.CodeUnsupportedFormat, "the file type cannot be analyzed")
	}
	if int64(len(data)) > o.config.MaxPayloadSize {
		return apperr.New(apperr.CodePayloadTooLarge,
			fmt.Sprintf("the image exceeds the analysis limit of %d bytes", o.config.MaxPayloadSize))
	}
	return nil
}

// invocationError maps a failed invocation to a caller-safe error; the cause
// is logged and kept only as the wrapped error.
func (o *Orchestrator) invocationError(log logger.Logger, err error, attempts int) error {
	fields := []logger.Field{
		logger.String("provider", o.provider.Name()),
		logger.Int("attempts", attempts),
		logger.Error(err),
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn("Analysis aborted", fields...)
		return apperr.Wrap(apperr.CodeServiceUnavailable, apperr.MsgServiceUnavailable, err)
	case llm.IsTransient(err):
		log.Error("Model unavailable after retries", fields...)
		return apperr.Wrap(apperr.CodeServiceUnavailable, apperr.MsgServiceUnavailable, err)
	default:
		log.Error("Model call failed", fields...)
		return apperr.Wrap(apperr.CodeAnalysisFailed, apperr.MsgAnalysisFailed, err)
	}
}
