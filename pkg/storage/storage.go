package storage

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
	"github.com/feichai0017/receipt-analyzer/pkg/storage/memory"
	"github.com/feichai0017/receipt-analyzer/pkg/storage/redis"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeMemory StorageType = "memory"
	StorageTypeRedis  StorageType = "redis"
)

const pingTimeout = 5 * time.Second

// ErrNotFound is returned for unknown or expired record ids.
var ErrNotFound = models.ErrRecordNotFound

// Storage 分析结果查询表, 并发安全
type Storage interface {
	// Save 保存或覆盖记录
	Save(ctx context.Context, record *models.AnalysisRecord) error
	// Get 获取记录, 不存在时返回 ErrNotFound
	Get(ctx context.Context, id string) (*models.AnalysisRecord, error)
	// Delete 删除记录
	Delete(ctx context.Context, id string) error
	// CleanupBefore 清理过期记录, 返回清理数量
	CleanupBefore(ctx context.Context, threshold time.Time) (int, error)
}

// Options 存储配置
type Options struct {
	Type          StorageType
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(opts Options, log logger.Logger) (Storage, error) {
	switch opts.Type {
	case StorageTypeMemory:
		return memory.NewStorage(log), nil
	case StorageTypeRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		store := redis.NewStorage(client, opts.TTL, log)

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.RedisAddr, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", opts.Type)
	}
}
