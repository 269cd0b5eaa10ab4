package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

const keyPrefix = "receipt:record:"

// RedisStorage 基于 Redis 的结果表, 过期由 key TTL 处理
type RedisStorage struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger logger.Logger
}

func NewStorage(client redis.UniversalClient, ttl time.Duration, log logger.Logger) *RedisStorage {
	return &RedisStorage{
		client: client,
		ttl:    ttl,
		logger: log.Named("storage.redis"),
	}
}

func key(id string) string {
	return keyPrefix + id
}

// Save implements Storage.Save
func (r *RedisStorage) Save(ctx context.Context, record *models.AnalysisRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := r.client.Set(ctx, key(record.ID), data, r.ttl).Err(); err != nil {
		r.logger.Error("Failed to save record",
			logger.String("id", record.ID),
			logger.Error(err),
		)
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Get implements Storage.Get
func (r *RedisStorage) Get(ctx context.Context, id string) (*models.AnalysisRecord, error) {
	data, err := r.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var record models.AnalysisRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, nil
}

// Delete implements Storage.Delete
func (r *RedisStorage) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// CleanupBefore implements Storage.CleanupBefore. Records expire through
// their TTL, so there is nothing to sweep.
func (r *RedisStorage) CleanupBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Ping 检查 Redis 连接
func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (r *RedisStorage) Close() error {
	return r.client.Close()
}
