// Package image normalizes uploaded receipt images before analysis: images
// wider than the configured maximum are scaled down, pixels are converted to
// the output format's target layout and the result is re-encoded, which drops
// any embedded metadata.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/receipt-analyzer/internal/apperr"
	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

// DefaultMaxPixels 解码前允许的最大像素数
const DefaultMaxPixels = 40_000_000

// errTooManyPixels is returned by decode before any pixel buffer is allocated.
var errTooManyPixels = errors.New("image dimensions exceed the pixel limit")

// NormalizerConfig 规范化配置
type NormalizerConfig struct {
	MaxWidth    int
	JPEGQuality int
	AutoOrient  bool  // 按 EXIF 方向旋转后再丢弃元数据
	MaxPixels   int64 // 0 表示 DefaultMaxPixels
}

// Normalizer 图像规范化处理器
type Normalizer struct {
	logger    logger.Logger
	config    NormalizerConfig
	encoders  Encoders
	pipelines map[models.DetectedType][]ImagePreprocessor
	bufPool   sync.Pool
}

// NewNormalizer 创建新的规范化处理器. encoders 为 nil 时使用默认编码器.
func NewNormalizer(log logger.Logger, cfg NormalizerConfig, encoders Encoders) *Normalizer {
	if encoders == nil {
		encoders = DefaultEncoders(cfg.JPEGQuality)
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	resize := NewResizeProcessor(cfg.MaxWidth)

	return &Normalizer{
		logger:   log.Named("normalizer"),
		config:   cfg,
		encoders: encoders,
		pipelines: map[models.DetectedType][]ImagePreprocessor{
			models.TypeJPEG: {resize, NewOpaqueProcessor(color.White)},
			models.TypePNG:  {resize, NewNRGBAProcessor()},
		},
		bufPool: sync.Pool{
			New: func() interface{} { return new(bytes.Buffer) },
		},
	}
}

// Normalize returns the analysis-ready bytes for data. PDFs are returned
// unchanged; images are decoded, resized and re-encoded in their own format.
func (n *Normalizer) Normalize(data []byte, t models.DetectedType) ([]byte, error) {
	if t == models.TypePDF {
		return data, nil
	}
	if len(data) == 0 || t == "" {
		return nil, apperr.New(apperr.CodeImageReadFailed, "no image data to read")
	}
	pipeline, ok := n.pipelines[t]
	if !ok {
		return nil, apperr.New(apperr.CodeImageReadFailed, "the file is not a readable image")
	}

	img, err := n.decode(data, t)
	if errors.Is(err, errTooManyPixels) {
		n.logger.Info("Image rejected before decoding", logger.String("type", string(t)), logger.Error(err))
		return nil, apperr.Wrap(apperr.CodeImageReadFailed,
			fmt.Sprintf("the image exceeds the limit of %d pixels", n.config.MaxPixels), err)
	}
	if err != nil {
		n.logger.Warn("Failed to decode image", logger.String("type", string(t)), logger.Error(err))
		return nil, apperr.Wrap(apperr.CodeImageReadFailed, "the image could not be read", err)
	}

	src := img.Bounds()
	processed, err := n.applyPreprocessing(img, pipeline)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePreprocessingFailed, "the image could not be prepared for analysis", err)
	}

	enc, ok := n.encoders.Lookup(t)
	if !ok {
		n.logger.Error("No encoder registered", logger.String("type", string(t)))
		return nil, apperr.New(apperr.CodePreprocessingFailed, "the image could not be prepared for analysis")
	}

	buf := n.bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer n.bufPool.Put(buf)

	if err := enc.Encode(buf, processed); err != nil {
		n.logger.Error("Failed to encode image", logger.String("type", string(t)), logger.Error(err))
		return nil, apperr.Wrap(apperr.CodePreprocessingFailed, "the image could not be prepared for analysis", err)
	}

	dst := processed.Bounds()
	n.logger.Debug("Image normalized",
		logger.String("type", string(t)),
		logger.Int("srcWidth", src.Dx()),
		logger.Int("srcHeight", src.Dy()),
		logger.Int("width", dst.Dx()),
		logger.Int("height", dst.Dy()),
		logger.Int("inBytes", len(data)),
		logger.Int("outBytes", buf.Len()),
	)
	return bytes.Clone(buf.Bytes()), nil
}

// decode checks the header before decoding so oversized images never get a
// pixel buffer.
func (n *Normalizer) decode(data []byte, t models.DetectedType) (image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if want := formatName(t); format != want {
		return nil, fmt.Errorf("decoded format %q does not match detected type %s", format, t)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > n.config.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", errTooManyPixels, cfg.Width, cfg.Height)
	}
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(n.config.AutoOrient))
}

// 图像预处理
func (n *Normalizer) applyPreprocessing(img image.Image, pipeline []ImagePreprocessor) (image.Image, error) {
	var err error
	result := img
	for _, processor := range pipeline {
		result, err = processor.Process(result)
		if err != nil {
			n.logger.Error("Preprocessing failed", logger.Error(err))
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		if result == nil {
			return nil, fmt.Errorf("preprocessor returned nil image")
		}
	}
	return result, nil
}

func formatName(t models.DetectedType) string {
	switch t {
	case models.TypeJPEG:
		return "jpeg"
	case models.TypePNG:
		return "png"
	}
	return ""
}
