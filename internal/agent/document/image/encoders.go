package image

import (
	"image"
	"io"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/receipt-analyzer/internal/models"
)

// Encoder writes an image in one output format.
type Encoder interface {
	Encode(w io.Writer, img image.Image) error
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(w io.Writer, img image.Image) error

func (f EncoderFunc) Encode(w io.Writer, img image.Image) error {
	return f(w, img)
}

// Encoders 按类型查找编码器
type Encoders map[models.DetectedType]Encoder

// Lookup reports the encoder registered for t. A missing encoder is a
// configuration error, not an encode failure.
func (e Encoders) Lookup(t models.DetectedType) (Encoder, bool) {
	enc, ok := e[t]
	return enc, ok && enc != nil
}

// DefaultEncoders returns JPEG and PNG encoders backed by imaging.
func DefaultEncoders(jpegQuality int) Encoders {
	return Encoders{
		models.TypeJPEG: EncoderFunc(func(w io.Writer, img image.Image) error {
			return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
		}),
		models.TypePNG: EncoderFunc(func(w io.Writer, img image.Image) error {
			return imaging.Encode(w, img, imaging.PNG)
		}),
	}
}
