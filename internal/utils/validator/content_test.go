package validator

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/feichai0017/receipt-analyzer/internal/apperr"
	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jpegHead = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	pngHead  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}
	pdfHead  = []byte("%PDF-1.7\n")
)

// countingUpload records how often the content is opened.
type countingUpload struct {
	data  []byte
	opens int
}

func (c *countingUpload) upload(name, contentType string, size int64) *models.RawUpload {
	return &models.RawUpload{
		Filename:    name,
		ContentType: contentType,
		Size:        size,
		Open: func() (io.ReadCloser, error) {
			c.opens++
			return io.NopCloser(bytes.NewReader(c.data)), nil
		},
	}
}

func newTestValidator(t *testing.T, allowed ...models.DetectedType) (*ContentValidator, *logger.TestLogger) {
	t.Helper()
	if len(allowed) == 0 {
		allowed = []models.DetectedType{models.TypeJPEG, models.TypePNG, models.TypePDF}
	}
	tl := logger.NewTestLogger()
	return NewContentValidator(tl, ValidatorConfig{MaxFileSize: 1024, AllowedTypes: allowed}), tl
}

func requireCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %T", err)
	assert.Equal(t, code, e.Code)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want models.DetectedType
	}{
		{"jpeg", jpegHead, models.TypeJPEG},
		{"png", pngHead, models.TypePNG},
		{"pdf", pdfHead, models.TypePDF},
		{"jpeg minimal", []byte{0xFF, 0xD8, 0xFF}, models.TypeJPEG},
		{"pdf exactly four bytes", []byte("%PDF"), models.TypePDF},
		{"too short", []byte{0xFF, 0xD8}, models.TypeUnrecognized},
		{"empty", nil, models.TypeUnrecognized},
		{"truncated png", pngHead[:6], models.TypeUnrecognized},
		{"text", []byte("hello, world"), models.TypeUnrecognized},
		{"gif", []byte("GIF89a"), models.TypeUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.head))
		})
	}
}

func TestValidate_DetectsByContent(t *testing.T) {
	v, _ := newTestValidator(t)

	for _, tc := range []struct {
		data []byte
		want models.DetectedType
	}{
		{jpegHead, models.TypeJPEG},
		{pngHead, models.TypePNG},
		{pdfHead, models.TypePDF},
	} {
		src := &countingUpload{data: tc.data}
		got, err := v.Validate(src.upload("scan.bin", "application/octet-stream", int64(len(tc.data))))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestValidate_Required(t *testing.T) {
	v, _ := newTestValidator(t)

	_, err := v.Validate(nil)
	requireCode(t, err, apperr.CodeFileRequired)

	src := &countingUpload{data: jpegHead}
	_, err = v.Validate(src.upload("a.jpg", "image/jpeg", 0))
	requireCode(t, err, apperr.CodeFileRequired)
	assert.Zero(t, src.opens)

	_, err = v.Validate(&models.RawUpload{Filename: "a.jpg", Size: 10})
	requireCode(t, err, apperr.CodeFileRequired)
}

func TestValidate_OversizedNeverOpened(t *testing.T) {
	v, _ := newTestValidator(t)
	src := &countingUpload{data: jpegHead}

	_, err := v.Validate(src.upload("big.jpg", "image/jpeg", 1025))
	requireCode(t, err, apperr.CodeFileTooLarge)
	assert.Zero(t, src.opens, "oversized content must not be opened")

	_, err = v.Validate(src.upload("edge.jpg", "image/jpeg", 1024))
	require.NoError(t, err)
	assert.Equal(t, 1, src.opens)
}

func TestValidate_SpoofedExtension(t *testing.T) {
	v, _ := newTestValidator(t)
	src := &countingUpload{data: []byte("this is plain text pretending to be a receipt")}

	_, err := v.Validate(src.upload("receipt.jpg", "image/jpeg", int64(len(src.data))))
	requireCode(t, err, apperr.CodeUnsupportedMediaType)
}

func TestValidate_NotAllowed(t *testing.T) {
	v, _ := newTestValidator(t, models.TypeJPEG, models.TypePNG)
	src := &countingUpload{data: pdfHead}

	_, err := v.Validate(src.upload("r.pdf", "application/pdf", int64(len(pdfHead))))
	requireCode(t, err, apperr.CodeUnsupportedMediaType)
}

func TestValidate_ShortContent(t *testing.T) {
	v, _ := newTestValidator(t)
	src := &countingUpload{data: []byte{0xFF, 0xD8}}

	_, err := v.Validate(src.upload("a.jpg", "image/jpeg", 2))
	requireCode(t, err, apperr.CodeUnsupportedMediaType)
}

func TestValidate_Unreadable(t *testing.T) {
	v, _ := newTestValidator(t)
	upload := &models.RawUpload{
		Filename: "a.jpg",
		Size:     10,
		Open: func() (io.ReadCloser, error) {
			return nil, errors.New("disk on fire")
		},
	}

	_, err := v.Validate(upload)
	requireCode(t, err, apperr.CodeFileUnreadable)
	assert.NotContains(t, err.Error(), "disk on fire")
}

func TestValidate_LogsDeclaredTypeMismatch(t *testing.T) {
	v, tl := newTestValidator(t)
	src := &countingUpload{data: pngHead}

	got, err := v.Validate(src.upload("photo.jpg", "image/jpeg; charset=binary", int64(len(pngHead))))
	require.NoError(t, err)
	assert.Equal(t, models.TypePNG, got)

	entries := tl.GetEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0].Level)
	assert.Equal(t, []string{"image/jpeg"}, tl.FieldValues()["declared"])
}

func TestReadAll(t *testing.T) {
	v, _ := newTestValidator(t)
	data := bytes.Repeat([]byte{0xAB}, 100)
	src := &countingUpload{data: data}

	got, err := v.ReadAll(src.upload("a", "", 100), 100)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// body longer than declared
	_, err = v.ReadAll(src.upload("a", "", 10), 99)
	requireCode(t, err, apperr.CodeFileTooLarge)
}
