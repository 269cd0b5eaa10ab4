package memory

import (
	"context"
	"sync"
	"time"

	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

// MemoryStorage 进程内结果表
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]*models.AnalysisRecord
	logger  logger.Logger
}

func NewStorage(log logger.Logger) *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*models.AnalysisRecord),
		logger:  log.Named("storage.memory"),
	}
}

// Save implements Storage.Save
func (m *MemoryStorage) Save(_ context.Context, record *models.AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record.Clone()
	return nil
}

// Get implements Storage.Get
func (m *MemoryStorage) Get(_ context.Context, id string) (*models.AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, models.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Delete implements Storage.Delete
func (m *MemoryStorage) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// CleanupBefore implements Storage.CleanupBefore
func (m *MemoryStorage) CleanupBefore(_ context.Context, threshold time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.records {
		if rec.UpdatedAt.Before(threshold) {
			delete(m.records, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("Removed expired records",
			logger.Int("removed", removed),
			logger.Int("remaining", len(m.records)),
		)
	}
	return removed, nil
}
