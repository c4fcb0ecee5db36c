package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func buildTestPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// seedSource writes an empty-but-present source face under root.
func seedSource(t *testing.T, root, userID, sourceID string) string {
	t.Helper()

	dir := root
	if userID != "" {
		dir = filepath.Join(root, userID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create source dir: %v", err)
	}
	path := filepath.Join(dir, sourceID+".jpeg")
	if err := os.WriteFile(path, []byte("face"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

type swapCall struct {
	source string
	target string
	output string
	format string
	img    image.Image
}

// copySwapper stands in for facefusion: it inspects the target and copies it
// to the output path.
type copySwapper struct {
	mu    sync.Mutex
	calls []swapCall
	err   error
}

func (s *copySwapper) Swap(_ context.Context, source, target, output string) error {
	if s.err != nil {
		return s.err
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode target: %w", err)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, swapCall{source: source, target: target, output: output, format: format, img: img})
	return nil
}

type upload struct {
	key    string
	bytes  int64
	expiry time.Duration
}

type memoryObjectStore struct {
	mu      sync.Mutex
	bucket  string
	uploads map[string]upload
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{bucket: "faceswap-outputs", uploads: make(map[string]upload)}
}

func (s *memoryObjectStore) UploadFile(_ context.Context, objectKey, path, _ string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[objectKey] = upload{key: objectKey, bytes: info.Size()}
	return info.Size(), nil
}

func (s *memoryObjectStore) PresignedGetURL(_ context.Context, objectKey string, expiry time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.uploads[objectKey]
	u.expiry = expiry
	s.uploads[objectKey] = u
	return fmt.Sprintf("https://signed.example.com/%s/%s?X-Amz-Expires=%d", s.bucket, objectKey, int(expiry.Seconds())), nil
}

func (s *memoryObjectStore) URI(objectKey string) string {
	return "s3://" + s.bucket + "/" + objectKey
}
