package pipeline

import (
	"bytes"
	"fmt"
	"image"
)

const defaultJPEGQuality = 75

// DefaultMaxPixels bounds a decoded target at roughly a 9459x9459 image.
const DefaultMaxPixels int64 = 89478485

func jpegQuality(q int) int {
	if q <= 0 || q > 100 {
		return defaultJPEGQuality
	}
	return q
}

func pixelLimit(maxPixels int64) int64 {
	if maxPixels <= 0 {
		return DefaultMaxPixels
	}
	return maxPixels
}

// checkPixels rejects dimensions whose pixel count exceeds maxPixels.
func checkPixels(width, height int, maxPixels int64) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecodeTarget, width, height)
	}
	if limit := pixelLimit(maxPixels); int64(width)*int64(height) > limit {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecodeTarget, width, height, limit)
	}
	return nil
}

// checkHeader reads only the image header. ok is false when the format has no
// registered Go decoder.
func checkHeader(input []byte, maxPixels int64) (ok bool, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return false, nil
	}
	return true, checkPixels(cfg.Width, cfg.Height, maxPixels)
}
