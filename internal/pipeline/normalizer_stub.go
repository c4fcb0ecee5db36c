//go:build !govips || !cgo

package pipeline

// Startup and Shutdown are no-ops without libvips.
func Startup() error { return nil }

func Shutdown() {}

func newNormalizer(quality int, maxPixels int64) (Normalizer, error) {
	return stdlibNormalizer{quality: quality, maxPixels: maxPixels}, nil
}
