// Package validator decides whether an upload is acceptable before any
// decoding happens. Type detection reads the leading magic bytes only; the
// declared content type and the file extension are never trusted.
package validator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"

	"github.com/feichai0017/receipt-analyzer/internal/apperr"
	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

// sniffLen is the longest signature we match (PNG).
const sniffLen = 8

var (
	sigJPEG = []byte{0xFF, 0xD8, 0xFF}
	sigPNG  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	sigPDF  = []byte("%PDF")
)

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize  int64                 // 最大文件大小（字节）
	AllowedTypes []models.DetectedType // 允许的文件类型
}

// ContentValidator 文件内容验证器
type ContentValidator struct {
	logger  logger.Logger
	config  ValidatorConfig
	allowed map[models.DetectedType]struct{}
}

// NewContentValidator 创建新的内容验证器
func NewContentValidator(log logger.Logger, cfg ValidatorConfig) *ContentValidator {
	allowed := make(map[models.DetectedType]struct{}, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[t] = struct{}{}
	}
	return &ContentValidator{
		logger:  log.Named("validator"),
		config:  cfg,
		allowed: allowed,
	}
}

// Validate checks presence, size and magic bytes of upload and returns its
// detected type. The size gate is decided from metadata before the content
// is opened. Every failure is an *apperr.Error.
func (v *ContentValidator) Validate(upload *models.RawUpload) (models.DetectedType, error) {
	if upload == nil || upload.Open == nil || upload.Size <= 0 {
		return models.TypeUnrecognized, apperr.New(apperr.CodeFileRequired, "a file is required")
	}
	if upload.Size > v.config.MaxFileSize {
		return models.TypeUnrecognized, apperr.New(apperr.CodeFileTooLarge,
			fmt.Sprintf("file exceeds the maximum size of %d bytes", v.config.MaxFileSize))
	}

	head, err := readHead(upload)
	if err != nil {
		v.logger.Warn("failed to read upload header", logger.Error(err))
		return models.TypeUnrecognized, apperr.Wrap(apperr.CodeFileUnreadable, "the file could not be read", err)
	}

	detected := Detect(head)
	if detected == models.TypeUnrecognized {
		return detected, apperr.New(apperr.CodeUnsupportedMediaType, "file content is not a supported type")
	}
	if _, ok := v.allowed[detected]; !ok {
		return detected, apperr.New(apperr.CodeUnsupportedMediaType,
			fmt.Sprintf("file type %s is not allowed", detected))
	}

	if declared := declaredMediaType(upload.ContentType); declared != "" && declared != detected.MIMEType() {
		v.logger.Warn("declared content type does not match file content",
			logger.String("declared", declared),
			logger.String("detected", string(detected)),
		)
	}
	return detected, nil
}

// ReadAll reads the whole upload, refusing more than max bytes regardless of
// the declared size.
func (v *ContentValidator) ReadAll(upload *models.RawUpload, max int64) ([]byte, error) {
	if upload == nil || upload.Open == nil {
		return nil, apperr.New(apperr.CodeFileRequired, "a file is required")
	}
	rc, err := upload.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeFileUnreadable, "the file could not be read", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if upload.Size > 0 && upload.Size <= max {
		buf.Grow(int(upload.Size))
	}
	n, err := buf.ReadFrom(io.LimitReader(rc, max+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeFileUnreadable, "the file could not be read", err)
	}
	if n > max {
		return nil, apperr.New(apperr.CodeFileTooLarge,
			fmt.Sprintf("file exceeds the maximum size of %d bytes", max))
	}
	return buf.Bytes(), nil
}

// Detect classifies a content header by its magic bytes.
func Detect(head []byte) models.DetectedType {
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	switch {
	case len(head) < len(sigJPEG):
		return models.TypeUnrecognized
	case bytes.HasPrefix(head, sigJPEG):
		return models.TypeJPEG
	case bytes.HasPrefix(head, sigPNG):
		return models.TypePNG
	case bytes.HasPrefix(head, sigPDF):
		return models.TypePDF
	}
	return models.TypeUnrecognized
}

func readHead(upload *models.RawUpload) ([]byte, error) {
	rc, err := upload.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return head[:n], nil
}

func declaredMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mt
}
