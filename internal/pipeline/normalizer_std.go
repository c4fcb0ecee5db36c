package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type stdlibNormalizer struct {
	quality   int
	maxPixels int64
}

func (n stdlibNormalizer) Normalize(ctx context.Context, input []byte) ([]byte, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, 0, ctx.Err()
	default:
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrDecodeTarget, err)
	}
	if err := checkPixels(cfg.Width, cfg.Height, n.maxPixels); err != nil {
		return nil, 0, 0, err
	}

	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrDecodeTarget, err)
	}

	if hasTransparency(src) {
		src = discardAlpha(src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality(n.quality)}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}

	bounds := src.Bounds()
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

func hasTransparency(img image.Image) bool {
	switch img.(type) {
	case *image.YCbCr, *image.Gray, *image.Gray16, *image.CMYK:
		return false
	}
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

// discardAlpha drops the alpha channel and keeps each pixel's straight RGB
// value. Fully transparent pixels keep their stored color instead of turning
// black, which is what a premultiplied encode would produce.
func discardAlpha(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}
