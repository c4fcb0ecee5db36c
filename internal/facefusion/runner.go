// Package facefusion drives the external facefusion command line tool.
package facefusion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

var ErrNoOutput = errors.New("facefusion produced no output file")

const outputTailBytes = 4 << 10

type Config struct {
	Command  string
	Args     []string
	WorkDir  string
	Timeout  time.Duration
	MaxProcs int
}

// Runner executes one facefusion process per swap. At most MaxProcs processes
// run at a time; callers beyond that wait for a slot or their context.
type Runner struct {
	logger  *log.Logger
	command string
	args    []string
	workDir string
	timeout time.Duration
	sem     chan struct{}
}

func NewRunner(logger *log.Logger, cfg Config) (*Runner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("facefusion command is required")
	}

	return &Runner{
		logger:  logger,
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		workDir: cfg.WorkDir,
		timeout: cfg.Timeout,
		sem:     make(chan struct{}, max(1, cfg.MaxProcs)),
	}, nil
}

// CLIArgs is the argument contract of the facefusion entry point.
func CLIArgs(sourcePath, targetPath, outputPath string) []string {
	return []string{"-s", sourcePath, "-t", targetPath, "-o", outputPath, "--headless"}
}

func (r *Runner) Swap(ctx context.Context, sourcePath, targetPath, outputPath string) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.sem }()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), r.args...), CLIArgs(sourcePath, targetPath, outputPath)...)
	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Dir = r.workDir
	cmd.WaitDelay = 5 * time.Second

	out := &tailBuffer{limit: outputTailBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	if r.logger != nil {
		r.logger.Printf("running facefusion command=%s args=%v", r.command, args)
	}

	startedAt := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("facefusion timed out after %s: %w", r.timeout, ctx.Err())
		}
		if ctx.Err() != nil {
			return fmt.Errorf("facefusion interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("facefusion failed: %w: %s", err, strings.TrimSpace(out.String()))
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s: %s", ErrNoOutput, outputPath, strings.TrimSpace(out.String()))
	}

	if r.logger != nil {
		r.logger.Printf("facefusion finished output=%s bytes=%d took=%s", outputPath, info.Size(), time.Since(startedAt).Round(time.Millisecond))
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
