package document

import (
	"github.com/feichai0017/receipt-analyzer/internal/models"
)

// Normalizer 上传图像规范化接口
type Normalizer interface {
	// Normalize 缩放并重新编码图像, PDF 原样返回
	Normalize(data []byte, t models.DetectedType) ([]byte, error)
}
