package facefusion

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// shRunner runs script through sh. Positional parameters follow CLIArgs:
// $2 source, $4 target, $6 output.
func shRunner(t *testing.T, script string, timeout time.Duration) *Runner {
	t.Helper()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}
	r, err := NewRunner(log.New(io.Discard, "", 0), Config{
		Command:  "sh",
		Args:     []string{"-c", script, "facefusion"},
		WorkDir:  t.TempDir(),
		Timeout:  timeout,
		MaxProcs: 1,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func swapPaths(t *testing.T) (string, string, string) {
	t.Helper()

	dir := t.TempDir()
	source := filepath.Join(dir, "source.jpeg")
	target := filepath.Join(dir, "target.jpeg")
	output := filepath.Join(dir, "output.jpeg")
	if err := os.WriteFile(source, []byte("source"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := os.WriteFile(target, []byte("target"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}
	return source, target, output
}

func TestSwapPassesCLIContract(t *testing.T) {
	r := shRunner(t, `printf '%s\n' "$@" > "$6.args"; cp "$4" "$6"`, time.Minute)
	source, target, output := swapPaths(t)

	if err := r.Swap(context.Background(), source, target, output); err != nil {
		t.Fatalf("swap: %v", err)
	}

	rawArgs, err := os.ReadFile(output + ".args")
	if err != nil {
		t.Fatalf("read recorded args: %v", err)
	}
	got := strings.Split(strings.TrimSpace(string(rawArgs)), "\n")
	want := []string{"-s", source, "-t", target, "-o", output, "--headless"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("expected args %v, got %v", want, got)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "target" {
		t.Fatalf("unexpected output contents %q", data)
	}
}

func TestSwapReportsFailureOutput(t *testing.T) {
	r := shRunner(t, `echo "no face detected" >&2; exit 3`, time.Minute)
	source, target, output := swapPaths(t)

	err := r.Swap(context.Background(), source, target, output)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "no face detected") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
}

func TestSwapWithoutOutputFile(t *testing.T) {
	r := shRunner(t, `exit 0`, time.Minute)
	source, target, output := swapPaths(t)

	err := r.Swap(context.Background(), source, target, output)
	if !errors.Is(err, ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}

func TestSwapTimeout(t *testing.T) {
	r := shRunner(t, `exec sleep 5`, 100*time.Millisecond)
	source, target, output := swapPaths(t)

	startedAt := time.Now()
	err := r.Swap(context.Background(), source, target, output)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(startedAt); elapsed > 4*time.Second {
		t.Fatalf("expected the process to be killed promptly, took %s", elapsed)
	}
}

func TestSwapWaitsForSlot(t *testing.T) {
	r := shRunner(t, `cp "$4" "$6"`, time.Minute)
	source, target, output := swapPaths(t)

	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := r.Swap(ctx, source, target, output); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected to give up waiting for a slot, got %v", err)
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := &tailBuffer{limit: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	if got := b.String(); got != "defg" {
		t.Fatalf("expected defg, got %q", got)
	}
}

func TestNewRunnerRequiresCommand(t *testing.T) {
	if _, err := NewRunner(nil, Config{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}
