//go:build govips && cgo

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var vipsState struct {
	sync.Mutex
	running bool
	stopped bool
}

// Startup initializes libvips once per process. libvips cannot be restarted,
// so Startup after Shutdown is an error.
func Startup() error {
	vipsState.Lock()
	defer vipsState.Unlock()
	switch {
	case vipsState.stopped:
		return errors.New("libvips was shut down and cannot be restarted")
	case vipsState.running:
		return nil
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheFiles:    0,
		MaxCacheMem:      64 << 20,
		MaxCacheSize:     50,
	})
	vipsState.running = true
	return nil
}

func Shutdown() {
	vipsState.Lock()
	defer vipsState.Unlock()
	if !vipsState.running {
		return
	}
	vips.Shutdown()
	vipsState.running = false
	vipsState.stopped = true
}

func newNormalizer(quality int, maxPixels int64) (Normalizer, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return govipsNormalizer{quality: quality, maxPixels: maxPixels}, nil
}

type govipsNormalizer struct {
	quality   int
	maxPixels int64
}

func (n govipsNormalizer) Normalize(ctx context.Context, input []byte) ([]byte, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, 0, ctx.Err()
	default:
	}

	checked, err := checkHeader(input, n.maxPixels)
	if err != nil {
		return nil, 0, 0, err
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrDecodeTarget, err)
	}
	defer img.Close()

	// libvips loads lazily, so the header check is still ahead of pixel decode.
	if !checked {
		if err := checkPixels(img.Width(), img.Height(), n.maxPixels); err != nil {
			return nil, 0, 0, err
		}
	}

	if img.HasAlpha() {
		if err := img.ExtractBand(0, img.Bands()-1); err != nil {
			return nil, 0, 0, fmt.Errorf("drop alpha band: %w", err)
		}
	}

	params := vips.NewJpegExportParams()
	params.Quality = jpegQuality(n.quality)
	data, _, err := img.ExportJpeg(params)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}

	return data, img.Width(), img.Height(), nil
}
