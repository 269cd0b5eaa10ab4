package receipt

import (
	"context"

	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/pkg/queue"
)

// ReceiptAnalyzer 收据分析服务接口
type ReceiptAnalyzer interface {
	// Analyze 同步执行完整流程: 校验, 规范化, 模型分析
	Analyze(ctx context.Context, upload *models.RawUpload) (*models.AnalysisRecord, error)
	// Submit 同步校验和规范化后将分析任务入队
	Submit(ctx context.Context, upload *models.RawUpload) (*models.AnalysisRecord, error)
	// HandleAnalysisTask 由 worker 调用, 执行排队中的分析
	HandleAnalysisTask(ctx context.Context, payload *queue.AnalysisPayload) error
	GetRecord(ctx context.Context, id string) (*models.AnalysisRecord, error)
	CancelTask(ctx context.Context, id string) (*models.AnalysisRecord, error)
	// CleanupRecords 清理超过保留期的记录
	CleanupRecords(ctx context.Context) (int, error)
	// AsyncEnabled 是否配置了任务队列
	AsyncEnabled() bool
}

// Analyzer turns normalized image bytes into a validated result.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte, t models.DetectedType) (*models.AnalysisResult, error)
	// Check 只执行分析前置检查, 不调用模型
	Check(data []byte, t models.DetectedType) error
}
