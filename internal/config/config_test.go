package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FACEFUSION_WORKDIR", "")
	t.Setenv("SWAPFLOW_URL_EXPIRY", "")
	t.Setenv("STORAGE_BUCKET", "")
	t.Setenv("FACEFUSION_ARGS", "")
	t.Setenv("SWAPFLOW_MAX_PIXELS", "")

	cfg := Load()

	if cfg.Swap.URLExpiry != 604800*time.Second {
		t.Fatalf("expected url expiry of 604800s, got %s", cfg.Swap.URLExpiry)
	}
	if cfg.Swap.MaxPixels != 89478485 {
		t.Fatalf("expected max pixels of 89478485, got %d", cfg.Swap.MaxPixels)
	}
	if cfg.Swap.SourcesRoot != "/face-sources" {
		t.Fatalf("expected sources root /face-sources, got %s", cfg.Swap.SourcesRoot)
	}
	if cfg.Storage.Bucket != "faceswap-outputs" {
		t.Fatalf("expected bucket faceswap-outputs, got %s", cfg.Storage.Bucket)
	}
	if cfg.Swap.ScratchDir != "/facefusion-custom/tmp" {
		t.Fatalf("expected scratch dir under the facefusion workdir, got %s", cfg.Swap.ScratchDir)
	}
	if len(cfg.FaceFusion.Args) != 1 || cfg.FaceFusion.Args[0] != "run.py" {
		t.Fatalf("expected default facefusion args [run.py], got %v", cfg.FaceFusion.Args)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FACEFUSION_WORKDIR", "/opt/ff")
	t.Setenv("FACEFUSION_ARGS", "-m facefusion.run")
	t.Setenv("FACEFUSION_TIMEOUT", "90s")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("SWAPFLOW_MAX_PIXELS", "1000000")

	cfg := Load()

	if cfg.FaceFusion.WorkDir != "/opt/ff" {
		t.Fatalf("expected workdir /opt/ff, got %s", cfg.FaceFusion.WorkDir)
	}
	if cfg.Models.Dir != "/opt/ff/.assets/models" {
		t.Fatalf("expected models dir to follow workdir, got %s", cfg.Models.Dir)
	}
	if got := cfg.FaceFusion.Args; len(got) != 2 || got[0] != "-m" || got[1] != "facefusion.run" {
		t.Fatalf("unexpected facefusion args: %v", got)
	}
	if cfg.FaceFusion.Timeout != 90*time.Second {
		t.Fatalf("expected 90s timeout, got %s", cfg.FaceFusion.Timeout)
	}
	if !cfg.RateLimit.Enabled {
		t.Fatal("expected rate limiting to be enabled")
	}
	if cfg.Swap.MaxPixels != 1000000 {
		t.Fatalf("expected max pixels override of 1000000, got %d", cfg.Swap.MaxPixels)
	}
	if cfg.Queue.RedisDB != 0 {
		t.Fatalf("expected invalid REDIS_DB to fall back to 0, got %d", cfg.Queue.RedisDB)
	}
}
