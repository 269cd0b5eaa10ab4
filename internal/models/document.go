package models

import (
	"errors"
	"io"
	"time"
)

// DetectedType 由文件头魔数判定的真实类型
type DetectedType string

const (
	TypeJPEG         DetectedType = "JPEG"
	TypePNG          DetectedType = "PNG"
	TypePDF          DetectedType = "PDF"
	TypeUnrecognized DetectedType = "UNRECOGNIZED"
)

// ParseDetectedType maps a configuration label to a DetectedType.
func ParseDetectedType(s string) (DetectedType, bool) {
	switch DetectedType(s) {
	case TypeJPEG, TypePNG, TypePDF:
		return DetectedType(s), true
	default:
		return "", false
	}
}

// MIMEType returns the canonical media type for the detected type.
func (t DetectedType) MIMEType() string {
	switch t {
	case TypeJPEG:
		return "image/jpeg"
	case TypePNG:
		return "image/png"
	case TypePDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// IsImage reports whether the type goes through normalization and analysis.
func (t DetectedType) IsImage() bool {
	return t == TypeJPEG || t == TypePNG
}

// RawUpload 客户端上传的原始文件
//
// Size is the length metadata supplied by the transport. Open is called only
// after Size has passed the upload ceiling.
type RawUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// RecordStatus 分析记录状态
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusCompleted RecordStatus = "completed"
	StatusFailed    RecordStatus = "failed"
	StatusCancelled RecordStatus = "cancelled"
)

// ErrorBody is the caller-safe part of a failure: a stable code and a message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AnalysisRecord 结果查询表中保存的记录
type AnalysisRecord struct {
	ID           string          `json:"id"`
	Status       RecordStatus    `json:"status"`
	Filename     string          `json:"filename"`
	DetectedType DetectedType    `json:"detectedType"`
	Result       *AnalysisResult `json:"result,omitempty"`
	Error        *ErrorBody      `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ErrRecordNotFound is returned by result stores for unknown or expired ids.
var ErrRecordNotFound = errors.New("record not found")

// Clone returns a deep copy so stored records never alias caller memory.
func (r *AnalysisRecord) Clone() *AnalysisRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Result != nil {
		res := *r.Result
		res.Items = append([]LineItem(nil), r.Result.Items...)
		if r.Result.Categories != nil {
			res.Categories = append([]string(nil), r.Result.Categories...)
		}
		c.Result = &res
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	return &c
}
