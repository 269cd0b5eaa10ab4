// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/receipt-analyzer/internal/models"
)

// TaskType 定义任务类型
const (
	TaskTypeReceiptAnalyze = "receipt:analyze"
)

// 队列名称
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

var queueNames = []string{QueueCritical, QueueDefault, QueueLow}

// ErrTaskNotFound is returned when a task is in no queue, or already finished.
var ErrTaskNotFound = errors.New("task not found")

// Queue 接口定义
type Queue interface {
	Enqueue(ctx context.Context, payload *AnalysisPayload) error
	CancelTask(ctx context.Context, taskID string) error
	Close() error
}

// AnalysisPayload 分析任务负载, 图像已完成校验和规范化
type AnalysisPayload struct {
	ID           string              `json:"id"`
	Filename     string              `json:"filename"`
	DetectedType models.DetectedType `json:"detectedType"`
	Data         []byte              `json:"data"`
	Priority     int                 `json:"priority,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// QueueConfig 定义队列配置
type QueueConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ProcessTimeout time.Duration
	Retention      time.Duration
}

// AsynqQueue 实现
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	config    *QueueConfig
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *QueueConfig) *AsynqQueue {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		config:    cfg,
	}
}

// NewAnalysisTask builds the asynq task for payload. Retries are disabled:
// the analysis itself retries transient model failures.
func NewAnalysisTask(payload *AnalysisPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	taskOpts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.TaskID(payload.ID),
	}
	// 根据优先选择队列
	switch payload.Priority {
	case 1:
		taskOpts = append(taskOpts, asynq.Queue(QueueCritical))
	case 2:
		taskOpts = append(taskOpts, asynq.Queue(QueueDefault))
	default:
		taskOpts = append(taskOpts, asynq.Queue(QueueLow))
	}
	return asynq.NewTask(TaskTypeReceiptAnalyze, data, append(taskOpts, opts...)...), nil
}

// ParseAnalysisTask decodes the payload of a receipt:analyze task.
func ParseAnalysisTask(t *asynq.Task) (*AnalysisPayload, error) {
	var payload AnalysisPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if payload.ID == "" || len(payload.Data) == 0 || payload.DetectedType == "" {
		return nil, fmt.Errorf("invalid task data: missing required fields")
	}
	return &payload, nil
}

// Enqueue 将任务加入队列
func (q *AsynqQueue) Enqueue(ctx context.Context, payload *AnalysisPayload) error {
	var opts []asynq.Option
	if q.config.ProcessTimeout > 0 {
		opts = append(opts, asynq.Timeout(q.config.ProcessTimeout))
	}
	if q.config.Retention > 0 {
		opts = append(opts, asynq.Retention(q.config.Retention))
	}

	t, err := NewAnalysisTask(payload, opts...)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// CancelTask 取消任务: 删除排队中的任务, 或通知正在处理的任务取消
func (q *AsynqQueue) CancelTask(_ context.Context, taskID string) error {
	for _, queueName := range queueNames {
		info, err := q.inspector.GetTaskInfo(queueName, taskID)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return fmt.Errorf("failed to inspect task: %w", err)
		}

		switch info.State {
		case asynq.TaskStateActive:
			if err := q.inspector.CancelProcessing(taskID); err != nil {
				return fmt.Errorf("failed to cancel task: %w", err)
			}
			return nil
		case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
			if err := q.inspector.DeleteTask(queueName, taskID); err != nil {
				return fmt.Errorf("failed to cancel task: %w", err)
			}
			return nil
		default:
			return ErrTaskNotFound
		}
	}
	return ErrTaskNotFound
}

// Close 关闭队列连接
func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}
