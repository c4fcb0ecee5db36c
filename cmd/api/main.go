package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/swapflow/internal/api"
	"github.com/dunamismax/swapflow/internal/config"
	"github.com/dunamismax/swapflow/internal/facefusion"
	"github.com/dunamismax/swapflow/internal/pipeline"
	"github.com/dunamismax/swapflow/internal/queue"
	"github.com/dunamismax/swapflow/internal/ratelimit"
	"github.com/dunamismax/swapflow/internal/storage"
	"github.com/dunamismax/swapflow/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		Component:    "api",
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
	if err := objectStore.EnsureBucket(ctx); err != nil {
		logger.Printf("ensure bucket %s failed: %v", objectStore.Bucket(), err)
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

	jobStore, usageStore, closeStore, err := openJobStore(ctx, cfg.Database.DSN, logger)
	if err != nil {
		logger.Fatalf("postgres init failed: %v", err)
	}
	defer closeStore()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	opts := api.Options{
		JobStore:            jobStore,
		UsageStore:          usageStore,
		Queue:               queueClient,
		Targets:             objectStore,
		RateLimitUserHeader: cfg.RateLimit.UserHeader,
		MaxUploadBytes:      cfg.API.MaxUploadBytes,
	}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.KeyPrefix)
		if err != nil {
			logger.Fatalf("rate limiter init failed: %v", err)
		}
		opts.RateLimiter = limiter
	}

	app := api.NewServer(logger, processor, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s bucket=%s sources=%s", cfg.API.Addr, objectStore.Bucket(), cfg.Swap.SourcesRoot)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
