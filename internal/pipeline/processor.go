package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/swapflow/internal/domain"
	"github.com/dunamismax/swapflow/internal/id"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrSourceNotFound = errors.New("source image not found")
	ErrInvalidID      = errors.New("invalid identifier")
	ErrDecodeTarget   = errors.New("target image could not be decoded")
)

type Request struct {
	RequestID     string
	UserID        string
	SourceImageID string
	Target        []byte
}

type Output struct {
	ObjectKey string
	S3URI     string
	ImageURL  string
	Bytes     int64
}

type Result struct {
	Output       Output
	TargetWidth  int
	TargetHeight int
	SwapDuration time.Duration
}

func (r Result) SwapResult() domain.SwapResult {
	return domain.SwapResult{
		ImageURL: r.Output.ImageURL,
		S3URI:    r.Output.S3URI,
	}
}

type SourceResolver interface {
	Resolve(ctx context.Context, userID, sourceImageID string) (string, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, input []byte) (data []byte, width, height int, err error)
}

type Swapper interface {
	Swap(ctx context.Context, sourcePath, targetPath, outputPath string) error
}

type Emitter interface {
	Emit(ctx context.Context, outputPath string) (Output, error)
}

type Options struct {
	ScratchDir  string
	JPEGQuality int
	// MaxPixels caps target width*height. Zero uses DefaultMaxPixels.
	MaxPixels int64
}

type Processor struct {
	sources    SourceResolver
	normalizer Normalizer
	swapper    Swapper
	emitter    Emitter
	targetsDir string
	outputsDir string
	newID      func() string
	tracer     trace.Tracer
}

func NewProcessor(sources SourceResolver, swapper Swapper, emitter Emitter, opts Options) (*Processor, error) {
	if sources == nil || swapper == nil || emitter == nil {
		return nil, errors.New("source resolver, swapper and emitter are required")
	}
	if strings.TrimSpace(opts.ScratchDir) == "" {
		return nil, errors.New("scratch directory is required")
	}

	scratch, err := filepath.Abs(opts.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch dir: %w", err)
	}

	normalizer, err := newNormalizer(opts.JPEGQuality, opts.MaxPixels)
	if err != nil {
		return nil, fmt.Errorf("build normalizer: %w", err)
	}

	p := &Processor{
		sources:    sources,
		normalizer: normalizer,
		swapper:    swapper,
		emitter:    emitter,
		targetsDir: filepath.Join(scratch, "targets"),
		outputsDir: filepath.Join(scratch, "outputs"),
		newID:      id.New,
		tracer:     otel.Tracer("swapflow/pipeline"),
	}
	if err := p.ensureScratchDirs(); err != nil {
		return nil, err
	}
	return p, nil
}

// ResolveSource reports where the source image for the given ids lives, or
// ErrSourceNotFound.
func (p *Processor) ResolveSource(ctx context.Context, userID, sourceImageID string) (string, error) {
	return p.sources.Resolve(ctx, userID, sourceImageID)
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.swap")
	span.SetAttributes(
		attribute.String("swap.request_id", req.RequestID),
		attribute.String("swap.user_id", req.UserID),
		attribute.String("swap.source_image_id", req.SourceImageID),
		attribute.Int("swap.target_bytes", len(req.Target)),
	)
	defer span.End()

	result, err := p.process(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "swap failed")
		return Result{}, err
	}
	span.SetStatus(codes.Ok, "swapped")
	return result, nil
}

func (p *Processor) process(ctx context.Context, req Request) (Result, error) {
	sourcePath, err := p.sources.Resolve(ctx, req.UserID, req.SourceImageID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve stage: %w", err)
	}

	if len(req.Target) == 0 {
		return Result{}, fmt.Errorf("normalize stage: %w: empty upload", ErrDecodeTarget)
	}
	targetJPEG, width, height, err := p.normalizer.Normalize(ctx, req.Target)
	if err != nil {
		return Result{}, fmt.Errorf("normalize stage: %w", err)
	}

	if err := p.ensureScratchDirs(); err != nil {
		return Result{}, err
	}
	targetPath := filepath.Join(p.targetsDir, p.newID()+".jpeg")
	outputPath := filepath.Join(p.outputsDir, p.newID()+".jpeg")
	defer removeScratch(targetPath, outputPath)

	if err := os.WriteFile(targetPath, targetJPEG, 0o644); err != nil {
		return Result{}, fmt.Errorf("write target file: %w", err)
	}

	startedAt := time.Now()
	if err := p.swapper.Swap(ctx, sourcePath, targetPath, outputPath); err != nil {
		return Result{}, fmt.Errorf("swap stage: %w", err)
	}
	swapDuration := time.Since(startedAt)

	out, err := p.emitter.Emit(ctx, outputPath)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}

	return Result{
		Output:       out,
		TargetWidth:  width,
		TargetHeight: height,
		SwapDuration: swapDuration,
	}, nil
}

func (p *Processor) ensureScratchDirs() error {
	for _, dir := range []string{p.targetsDir, p.outputsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create scratch dir %s: %w", dir, err)
		}
	}
	return nil
}

func removeScratch(paths ...string) {
	for _, path := range paths {
		_ = os.Remove(path)
	}
}
