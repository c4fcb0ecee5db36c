package models

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type assetServer struct {
	mu     sync.Mutex
	files  map[string][]byte
	gets   map[string]int
	ranges map[string]string
}

func newAssetServer(t *testing.T, files map[string][]byte) (*assetServer, *httptest.Server) {
	t.Helper()
	a := &assetServer{files: files, gets: map[string]int{}, ranges: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/models/")
		data, ok := a.files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			a.mu.Lock()
			a.gets[name]++
			a.ranges[name] = r.Header.Get("Range")
			a.mu.Unlock()
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return a, srv
}

func (a *assetServer) getCount(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gets[name]
}

func (a *assetServer) rangeHeader(name string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ranges[name]
}

func newTestFetcher(t *testing.T, dir string) *Fetcher {
	t.Helper()
	f, err := NewFetcher(log.New(io.Discard, "", 0), Config{Dir: dir, Concurrency: 2, ProgressInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	return f
}

func TestFetchDownloadsMissingFiles(t *testing.T) {
	files := map[string][]byte{
		"inswapper_128.onnx": bytes.Repeat([]byte("i"), 4096),
		"gfpgan_1.4.onnx":    bytes.Repeat([]byte("g"), 1024),
	}
	_, srv := newAssetServer(t, files)
	dir := t.TempDir()

	reports, err := newTestFetcher(t, dir).Fetch(context.Background(), []string{
		srv.URL + "/models/inswapper_128.onnx",
		srv.URL + "/models/gfpgan_1.4.onnx",
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	for _, report := range reports {
		if report.Status != StatusDownloaded {
			t.Fatalf("expected downloaded status for %s, got %s", report.Name, report.Status)
		}
		got, err := os.ReadFile(filepath.Join(dir, report.Name))
		if err != nil {
			t.Fatalf("read %s: %v", report.Name, err)
		}
		if !bytes.Equal(got, files[report.Name]) {
			t.Fatalf("content mismatch for %s", report.Name)
		}
	}
}

func TestFetchSkipsCompleteFiles(t *testing.T) {
	data := bytes.Repeat([]byte("r"), 2048)
	assets, srv := newAssetServer(t, map[string][]byte{"retinaface_10g.onnx": data})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "retinaface_10g.onnx"), data, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	reports, err := newTestFetcher(t, dir).Fetch(context.Background(), []string{srv.URL + "/models/retinaface_10g.onnx"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if reports[0].Status != StatusSkipped {
		t.Fatalf("expected skipped, got %s", reports[0].Status)
	}
	if assets.getCount("retinaface_10g.onnx") != 0 {
		t.Fatal("complete files must not be downloaded again")
	}
}

func TestFetchResumesPartialFiles(t *testing.T) {
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i % 251)
	}
	assets, srv := newAssetServer(t, map[string][]byte{"face_parser.onnx": data})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "face_parser.onnx"), data[:3000], 0o644); err != nil {
		t.Fatalf("seed partial file: %v", err)
	}

	reports, err := newTestFetcher(t, dir).Fetch(context.Background(), []string{srv.URL + "/models/face_parser.onnx"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if reports[0].Status != StatusResumed {
		t.Fatalf("expected resumed, got %s", reports[0].Status)
	}
	if got := assets.rangeHeader("face_parser.onnx"); got != "bytes=3000-" {
		t.Fatalf("expected range request from 3000, got %q", got)
	}
	got, err := os.ReadFile(filepath.Join(dir, "face_parser.onnx"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("resumed file does not match upstream")
	}
}

func TestFetchRestartsOversizedFiles(t *testing.T) {
	data := []byte("small-model")
	_, srv := newAssetServer(t, map[string][]byte{"yunet_2023mar.onnx": data})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "yunet_2023mar.onnx"), bytes.Repeat([]byte("x"), 100), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	if _, err := newTestFetcher(t, dir).Fetch(context.Background(), []string{srv.URL + "/models/yunet_2023mar.onnx"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "yunet_2023mar.onnx"))
	if !bytes.Equal(got, data) {
		t.Fatalf("expected file to be replaced, got %q", got)
	}
}

func TestFetchFailsOnMissingRemote(t *testing.T) {
	_, srv := newAssetServer(t, map[string][]byte{})
	if _, err := newTestFetcher(t, t.TempDir()).Fetch(context.Background(), []string{srv.URL + "/models/nope.onnx"}); err == nil {
		t.Fatal("expected probe error for missing remote file")
	}
}

func TestFileName(t *testing.T) {
	name, err := FileName(DefaultURLs[len(DefaultURLs)-1])
	if err != nil {
		t.Fatalf("file name: %v", err)
	}
	if name != "real_esrgan_x2plus.pth" {
		t.Fatalf("unexpected name %s", name)
	}
	if _, err := FileName("https://example.com/"); err == nil {
		t.Fatal("expected error for url without a file name")
	}
	if len(DefaultURLs) != 11 {
		t.Fatalf("expected 11 default models, got %d", len(DefaultURLs))
	}
}
