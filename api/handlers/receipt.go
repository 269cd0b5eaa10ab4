package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/receipt-analyzer/internal/apperr"
	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/internal/service/receipt"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

// multipart 表单头部和分隔符的额外空间
const formOverhead = 1 << 20

type ReceiptHandler struct {
	service     receipt.ReceiptAnalyzer
	maxFileSize int64
	logger      logger.Logger
}

// AnalyzeResponse 同步分析响应
type AnalyzeResponse struct {
	ID        string                 `json:"id"`
	Filename  string                 `json:"filename"`
	Result    *models.AnalysisResult `json:"result"`
	Timestamp string                 `json:"timestamp"`
}

// SubmitResponse 异步提交响应
type SubmitResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Filename  string `json:"filename"`
	CreatedAt string `json:"createdAt"`
}

func NewReceiptHandler(service receipt.ReceiptAnalyzer, maxFileSize int64, log logger.Logger) *ReceiptHandler {
	return &ReceiptHandler{
		service:     service,
		maxFileSize: maxFileSize,
		logger:      log.Named("http"),
	}
}

// Analyze 同步分析单个收据
func (h *ReceiptHandler) Analyze(c *gin.Context) {
	upload, err := h.readUpload(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	record, err := h.service.Analyze(c.Request.Context(), upload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, AnalyzeResponse{
		ID:        record.ID,
		Filename:  record.Filename,
		Result:    record.Result,
		Timestamp: record.CreatedAt.Format(time.RFC3339),
	})
}

// Submit 提交异步分析任务
func (h *ReceiptHandler) Submit(c *gin.Context) {
	upload, err := h.readUpload(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	record, err := h.service.Submit(c.Request.Context(), upload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Location", "/api/v1/receipts/"+record.ID)
	c.JSON(http.StatusAccepted, SubmitResponse{
		ID:        record.ID,
		Status:    string(record.Status),
		Filename:  record.Filename,
		CreatedAt: record.CreatedAt.Format(time.RFC3339),
	})
}

// GetRecord 获取分析记录
func (h *ReceiptHandler) GetRecord(c *gin.Context) {
	record, err := h.service.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// CancelTask 取消排队中的分析
func (h *ReceiptHandler) CancelTask(c *gin.Context) {
	record, err := h.service.CancelTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// readUpload bounds the request body and turns the "file" form field into
// a RawUpload. The file itself is opened only by the validator.
func (h *ReceiptHandler) readUpload(c *gin.Context) (*models.RawUpload, error) {
	limit := h.maxFileSize + formOverhead
	if c.Request.ContentLength > limit {
		return nil, tooLarge(h.maxFileSize)
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return nil, tooLarge(h.maxFileSize)
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			return nil, apperr.Wrap(apperr.CodeFileRequired, "a file is required", err)
		default:
			return nil, apperr.Wrap(apperr.CodeFileUnreadable, "the upload could not be read", err)
		}
	}

	return &models.RawUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Open: func() (io.ReadCloser, error) {
			return openPart(header)
		},
	}, nil
}

func openPart(header *multipart.FileHeader) (io.ReadCloser, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open form file: %w", err)
	}
	return f, nil
}

func tooLarge(max int64) error {
	return apperr.New(apperr.CodeFileTooLarge, fmt.Sprintf("file exceeds the maximum size of %d bytes", max))
}
