package image

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

// ImagePreprocessor 图像预处理接口
type ImagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// 缩放处理器: 宽度超过上限时等比缩小
type ResizeProcessor struct {
	maxWidth int
}

func NewResizeProcessor(maxWidth int) *ResizeProcessor {
	return &ResizeProcessor{maxWidth: maxWidth}
}

func (p *ResizeProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= p.maxWidth {
		return img, nil
	}
	return imaging.Resize(img, p.maxWidth, ScaledHeight(w, h, p.maxWidth), imaging.CatmullRom), nil
}

// ScaledHeight returns round(h * maxWidth / w), never less than 1.
func ScaledHeight(w, h, maxWidth int) int {
	nh := int(math.Round(float64(h) * float64(maxWidth) / float64(w)))
	if nh < 1 {
		nh = 1
	}
	return nh
}

// NRGBA 处理器: 保留 alpha 通道
type NRGBAProcessor struct{}

func NewNRGBAProcessor() *NRGBAProcessor {
	return &NRGBAProcessor{}
}

func (p *NRGBAProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba, nil
	}
	return imaging.Clone(img), nil
}

// 不透明处理器: 合成到纯色背景上, 输出 *image.RGBA
type OpaqueProcessor struct {
	background color.Color
}

func NewOpaqueProcessor(background color.Color) *OpaqueProcessor {
	return &OpaqueProcessor{background: background}
}

func (p *OpaqueProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba.Opaque() {
		return rgba, nil
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{p.background}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	return dst, nil
}
