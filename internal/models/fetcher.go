package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const assetsBase = "https://github.com/facefusion/facefusion-assets/releases/download/models/"

// DefaultURLs are the weights the facefusion CLI loads for face swapping.
var DefaultURLs = []string{
	assetsBase + "open_nsfw.onnx",
	assetsBase + "retinaface_10g.onnx",
	assetsBase + "yunet_2023mar.onnx",
	assetsBase + "arcface_w600k_r50.onnx",
	assetsBase + "arcface_simswap.onnx",
	assetsBase + "gender_age.onnx",
	assetsBase + "face_occluder.onnx",
	assetsBase + "face_parser.onnx",
	assetsBase + "inswapper_128.onnx",
	assetsBase + "gfpgan_1.4.onnx",
	assetsBase + "real_esrgan_x2plus.pth",
}

const (
	StatusSkipped    = "skipped"
	StatusResumed    = "resumed"
	StatusDownloaded = "downloaded"
)

type Config struct {
	Dir              string
	Concurrency      int
	HTTPClient       *http.Client
	ProgressInterval time.Duration
}

type Fetcher struct {
	logger           *log.Logger
	client           *http.Client
	dir              string
	concurrency      int
	progressInterval time.Duration
}

// Report describes what happened to one model file.
type Report struct {
	Name   string
	Path   string
	Size   int64
	Status string
}

func NewFetcher(logger *log.Logger, cfg Config) (*Fetcher, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("models directory is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Fetcher{
		logger:           logger,
		client:           client,
		dir:              cfg.Dir,
		concurrency:      max(1, cfg.Concurrency),
		progressInterval: interval,
	}, nil
}

// Fetch makes sure every url is present in the models directory. Sizes are
// probed concurrently; downloads run one at a time.
func (f *Fetcher) Fetch(ctx context.Context, urls []string) ([]Report, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}

	names := make([]string, len(urls))
	for i, raw := range urls {
		name, err := FileName(raw)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}

	sizes := make([]int64, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, raw := range urls {
		g.Go(func() error {
			size, err := f.probe(gctx, raw)
			if err != nil {
				return err
			}
			sizes[i] = size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(urls))
	for i, raw := range urls {
		report, err := f.fetchOne(ctx, raw, names[i], sizes[i])
		if err != nil {
			return reports, err
		}
		f.logger.Printf("model %s status=%s bytes=%d", report.Name, report.Status, report.Size)
		reports = append(reports, report)
	}
	return reports, nil
}

// FileName is the local file name for a model url.
func FileName(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse model url %q: %w", raw, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("model url %q has no file name", raw)
	}
	return name, nil
}

// probe returns the remote size, or 0 when the server does not report one.
func (f *Fetcher) probe(ctx context.Context, raw string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, raw, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", raw, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("probe %s: status=%d", raw, resp.StatusCode)
	}
	return max(0, resp.ContentLength), nil
}

func (f *Fetcher) fetchOne(ctx context.Context, raw, name string, total int64) (Report, error) {
	dest := filepath.Join(f.dir, name)
	report := Report{Name: name, Path: dest, Size: total}

	var have int64
	if info, err := os.Stat(dest); err == nil {
		have = info.Size()
	} else if !errors.Is(err, os.ErrNotExist) {
		return report, fmt.Errorf("stat %s: %w", dest, err)
	}

	switch {
	case total > 0 && have == total:
		report.Status = StatusSkipped
		return report, nil
	case total > 0 && have > total:
		// Larger than upstream means a different file; start over.
		have = 0
	case total == 0:
		have = 0
	}

	status, err := f.download(ctx, raw, dest, have, total)
	if err != nil {
		return report, err
	}
	report.Status = status
	if info, err := os.Stat(dest); err == nil {
		report.Size = info.Size()
	}
	return report, nil
}

func (f *Fetcher) download(ctx context.Context, raw, dest string, offset, total int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", raw, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	status := StatusDownloaded
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND
		status = StatusResumed
	case resp.StatusCode == http.StatusOK:
		flags |= os.O_TRUNC
	default:
		return "", fmt.Errorf("download %s: status=%d", raw, resp.StatusCode)
	}

	file, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", dest, err)
	}

	stop := f.watchProgress(filepath.Base(dest), dest, total)
	_, copyErr := io.Copy(file, resp.Body)
	stop()
	closeErr := file.Close()
	if copyErr != nil {
		return "", fmt.Errorf("write %s: %w", dest, copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("close %s: %w", dest, closeErr)
	}

	if total > 0 {
		info, err := os.Stat(dest)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", dest, err)
		}
		if info.Size() != total {
			return "", fmt.Errorf("download %s: got %d bytes, want %d", raw, info.Size(), total)
		}
	}
	return status, nil
}

// watchProgress logs the on-disk size of dest until the returned func is called.
func (f *Fetcher) watchProgress(name, dest string, total int64) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(f.progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				info, err := os.Stat(dest)
				if err != nil {
					continue
				}
				if total > 0 {
					f.logger.Printf("downloading %s %d/%d bytes (%.1f%%)", name, info.Size(), total, float64(info.Size())*100/float64(total))
				} else {
					f.logger.Printf("downloading %s %d bytes", name, info.Size())
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
