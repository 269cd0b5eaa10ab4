package handlers

import (
	"github.com/feichai0017/receipt-analyzer/internal/service/receipt"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

type Handlers struct {
	Receipt *ReceiptHandler
	Health  *HealthHandler
}

func NewHandlers(
	receiptService receipt.ReceiptAnalyzer,
	maxFileSize int64,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Receipt: NewReceiptHandler(receiptService, maxFileSize, logger),
		Health:  NewHealthHandler(),
	}
}
