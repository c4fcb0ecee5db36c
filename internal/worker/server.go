package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/swapflow/internal/config"
	"github.com/dunamismax/swapflow/internal/domain"
	"github.com/dunamismax/swapflow/internal/pipeline"
	"github.com/dunamismax/swapflow/internal/queue"
	"github.com/dunamismax/swapflow/internal/store"
	"github.com/dunamismax/swapflow/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processor     swapProcessor
	targets       targetStorage
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type swapProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type targetStorage interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	RemoveObject(ctx context.Context, objectKey string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	processor swapProcessor,
	targets targetStorage,
	webhookClient webhookSender,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if processor == nil {
		return nil, fmt.Errorf("swap processor is required")
	}
	if targets == nil {
		return nil, fmt.Errorf("target storage is required")
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processor:     processor,
		targets:       targets,
		webhookClient: webhookClient,
		jobStore:      jobStore,
		usageStore:    usageStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("swapflow/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeSwapFace, s.handleSwapFace)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleSwapFace(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseSwapFacePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.swap_face", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.user_id", payload.UserID),
		attribute.String("job.source_image_id", payload.SourceImageID),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_image_id=%s target_key=%s",
		payload.JobID,
		payload.SourceImageID,
		payload.TargetKey,
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.runSwap(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "swap failed")

		permanent := isPermanent(err)
		if !permanent && !finalAttempt(ctx) {
			s.logger.Printf("swap attempt failed, will retry job_id=%s err=%v", payload.JobID, err)
			return fmt.Errorf("run swap: %w", err)
		}

		s.failJob(ctx, payload, err)
		if permanent {
			return fmt.Errorf("run swap: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run swap: %w", err)
	}

	s.logger.Printf("Swapped job_id=%s object_key=%s", payload.JobID, result.Output.ObjectKey)
	if s.jobStore != nil {
		if _, err := s.jobStore.MarkSucceeded(ctx, payload.JobID, store.Completion{
			ObjectKey: result.Output.ObjectKey,
			S3URI:     result.Output.S3URI,
			ImageURL:  result.Output.ImageURL,
		}); err != nil {
			s.logger.Printf("mark succeeded failed job_id=%s err=%v", payload.JobID, err)
		}
	}
	s.metrics.outputBytesTotal.Add(float64(result.Output.Bytes))
	s.recordUsage(ctx, payload, result, time.Since(startedAt))
	s.removeTarget(ctx, payload)

	// The swap already succeeded; a failed delivery must not re-run it.
	s.dispatchWebhook(ctx, payload, webhook.EventSwapCompleted, webhook.Event{
		JobID:         payload.JobID,
		Status:        domain.JobStatusSucceeded,
		UserID:        payload.UserID,
		SourceImageID: payload.SourceImageID,
		ImageURL:      result.Output.ImageURL,
		S3URI:         result.Output.S3URI,
		RequestedAt:   payload.RequestedAt,
		FinishedAt:    time.Now().UTC(),
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "swapped")
	return nil
}

func (s *Server) runSwap(ctx context.Context, payload queue.SwapFacePayload) (pipeline.Result, error) {
	target, err := s.targets.ReadObject(ctx, payload.TargetKey)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("read parked target: %w", err)
	}
	return s.processor.Process(ctx, pipeline.Request{
		RequestID:     payload.JobID,
		UserID:        payload.UserID,
		SourceImageID: payload.SourceImageID,
		Target:        target,
	})
}

func (s *Server) failJob(ctx context.Context, payload queue.SwapFacePayload, cause error) {
	reason := failureReason(cause)
	if s.jobStore != nil {
		if _, err := s.jobStore.MarkFailed(ctx, payload.JobID, reason); err != nil {
			s.logger.Printf("mark failed failed job_id=%s err=%v", payload.JobID, err)
		}
	}
	s.removeTarget(ctx, payload)
	s.dispatchWebhook(ctx, payload, webhook.EventSwapFailed, webhook.Event{
		JobID:         payload.JobID,
		Status:        domain.JobStatusFailed,
		UserID:        payload.UserID,
		SourceImageID: payload.SourceImageID,
		Error:         reason,
		RequestedAt:   payload.RequestedAt,
		FinishedAt:    time.Now().UTC(),
	})
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) removeTarget(ctx context.Context, payload queue.SwapFacePayload) {
	if err := s.targets.RemoveObject(ctx, payload.TargetKey); err != nil {
		s.logger.Printf("remove parked target failed job_id=%s key=%s err=%v", payload.JobID, payload.TargetKey, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.SwapFacePayload, event string, body webhook.Event) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.SwapFacePayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = "anonymous"
	}
	computeTimeMS := max(1, computeDuration.Milliseconds())

	usage := domain.UsageLog{
		UserID:        userID,
		JobID:         payload.JobID,
		SourceImageID: payload.SourceImageID,
		OutputBytes:   result.Output.Bytes,
		ComputeTimeMS: computeTimeMS,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

// isPermanent reports failures that no retry can fix.
func isPermanent(err error) bool {
	return errors.Is(err, pipeline.ErrSourceNotFound) ||
		errors.Is(err, pipeline.ErrInvalidID) ||
		errors.Is(err, pipeline.ErrDecodeTarget)
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrSourceNotFound):
		return "source image not found"
	case errors.Is(err, pipeline.ErrInvalidID):
		return "invalid user_id or source_image_id"
	case errors.Is(err, pipeline.ErrDecodeTarget):
		return "target image could not be decoded"
	default:
		return "face swap failed"
	}
}
