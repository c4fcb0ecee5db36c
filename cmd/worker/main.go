package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/swapflow/internal/config"
	"github.com/dunamismax/swapflow/internal/facefusion"
	"github.com/dunamismax/swapflow/internal/pipeline"
	"github.com/dunamismax/swapflow/internal/storage"
	"github.com/dunamismax/swapflow/internal/store"
	"github.com/dunamismax/swapflow/internal/telemetry"
	"github.com/dunamismax/swapflow/internal/webhook"
	"github.com/dunamismax/swapflow/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		Component:    "worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	objectStore, err := storage.New(ctx, storage.Config{
		Driver:   cfg.Storage.Driver,
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Region:   cfg.Storage.Region,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage init failed: %v", err)
	}

	runner, err := facefusion.NewRunner(logger, facefusion.Config{
		Command:  cfg.FaceFusion.Command,
		Args:     cfg.FaceFusion.Args,
		WorkDir:  cfg.FaceFusion.WorkDir,
		Timeout:  cfg.FaceFusion.Timeout,
		MaxProcs: cfg.FaceFusion.MaxProcs,
	})
	if err != nil {
		logger.Fatalf("facefusion runner init failed: %v", err)
	}

	processor, err := pipeline.NewProcessor(
		pipeline.VolumeSourceResolver{Root: cfg.Swap.SourcesRoot},
		runner,
		pipeline.ObjectStoreEmitter{Store: objectStore, KeyPrefix: cfg.Swap.KeyPrefix, Expiry: cfg.Swap.URLExpiry},
		pipeline.Options{
			ScratchDir:  cfg.Swap.ScratchDir,
			JPEGQuality: cfg.Swap.JPEGQuality,
			MaxPixels:   cfg.Swap.MaxPixels,
		},
	)
	if err != nil {
		logger.Fatalf("pipeline init failed: %v", err)
	}
	defer pipeline.Shutdown()

	// Job status only survives across processes with postgres; the memory
	// store still lets the worker run swaps and deliver webhooks.
	var jobStore store.JobStore
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres init failed: %v", err)
		}
		defer pg.Close()
		jobStore = pg
	} else {
		logger.Printf("POSTGRES_DSN is empty; job status updates stay local to this worker")
		jobStore = store.NewMemoryJobStore()
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, processor, objectStore, webhookClient, jobStore, nil)
	if err != nil {
		logger.Fatalf("worker init failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(closeCtx)
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	// Run blocks until SIGINT or SIGTERM and drains in-flight tasks.
	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}
}
