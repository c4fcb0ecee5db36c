package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/swapflow/internal/domain"
	"github.com/dunamismax/swapflow/internal/id"
	"github.com/dunamismax/swapflow/internal/pipeline"
	"github.com/dunamismax/swapflow/internal/queue"
	"github.com/dunamismax/swapflow/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxUploadBytes = 32 << 20
	multipartMemory       = 8 << 20
)

type Server struct {
	logger              *log.Logger
	processor           swapProcessor
	jobStore            store.JobStore
	usageStore          store.UsageStore
	queueClient         queueEnqueuer
	targets             targetStorage
	rateLimiter         RateLimiter
	rateLimitUserHeader string
	maxUploadBytes      int64
	metrics             *metrics
	tracer              trace.Tracer
	mux                 *http.ServeMux
	handler             http.Handler
}

type swapProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	ResolveSource(ctx context.Context, userID, sourceImageID string) (string, error)
}

type queueEnqueuer interface {
	EnqueueSwapFace(ctx context.Context, payload queue.SwapFacePayload) (*asynq.TaskInfo, error)
}

// targetStorage parks raw uploads for the async worker.
type targetStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	RemoveObject(ctx context.Context, objectKey string) error
}

// Options carries the optional collaborators. Async job routes answer 503
// unless JobStore, Queue and Targets are all set.
type Options struct {
	JobStore            store.JobStore
	UsageStore          store.UsageStore
	Queue               queueEnqueuer
	Targets             targetStorage
	RateLimiter         RateLimiter
	RateLimitUserHeader string
	MaxUploadBytes      int64
}

func NewServer(logger *log.Logger, processor swapProcessor, opts Options) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if strings.TrimSpace(opts.RateLimitUserHeader) == "" {
		opts.RateLimitUserHeader = "X-User-ID"
	}

	s := &Server{
		logger:              logger,
		processor:           processor,
		jobStore:            opts.JobStore,
		usageStore:          opts.UsageStore,
		queueClient:         opts.Queue,
		targets:             opts.Targets,
		rateLimiter:         opts.RateLimiter,
		rateLimitUserHeader: opts.RateLimitUserHeader,
		maxUploadBytes:      opts.MaxUploadBytes,
		metrics:             newMetrics(),
		tracer:              otel.Tracer("swapflow/api"),
		mux:                 http.NewServeMux(),
	}
	s.routes()
	s.handler = s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/swaps", s.handleSwap)
	s.mux.HandleFunc("POST /v1/swap-jobs", s.handleCreateSwapJob)
	s.mux.HandleFunc("GET /v1/swap-jobs/{id}", s.handleGetSwapJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	form, ok := s.readSwapForm(w, r)
	if !ok {
		return
	}

	requestID := id.New()
	started := time.Now()
	result, err := s.processor.Process(r.Context(), pipeline.Request{
		RequestID:     requestID,
		UserID:        form.UserID,
		SourceImageID: form.SourceImageID,
		Target:        form.target,
	})
	if err != nil {
		s.metrics.swapsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		s.writeSwapError(w, requestID, form.SwapRequest, err)
		return
	}
	s.metrics.swapsTotal.WithLabelValues("succeeded").Inc()
	s.metrics.swapDuration.Observe(result.SwapDuration.Seconds())

	s.recordUsage(r.Context(), domain.UsageLog{
		UserID:        form.UserID,
		JobID:         requestID,
		SourceImageID: form.SourceImageID,
		OutputBytes:   result.Output.Bytes,
		ComputeTimeMS: time.Since(started).Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	})

	s.logger.Printf("swap completed request=%s source=%s object=%s", requestID, form.SourceImageID, result.Output.ObjectKey)
	writeJSON(w, http.StatusOK, result.SwapResult())
}

func (s *Server) handleCreateSwapJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil || s.queueClient == nil || s.targets == nil {
		writeDetail(w, http.StatusServiceUnavailable, "async swaps are not enabled")
		return
	}

	form, ok := s.readSwapForm(w, r)
	if !ok {
		return
	}

	// Reject unknown sources before anything is parked or queued.
	if _, err := s.processor.ResolveSource(r.Context(), form.UserID, form.SourceImageID); err != nil {
		s.writeSwapError(w, "", form.SwapRequest, err)
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	targetKey := "targets/" + jobID

	if err := s.targets.WriteObject(r.Context(), targetKey, form.target, form.contentType); err != nil {
		s.logger.Printf("park target failed for job %s: %v", jobID, err)
		writeDetail(w, http.StatusInternalServerError, "failed to store target image")
		return
	}

	// Stored as queued before the task exists so that a fast worker's writes
	// are never followed by a stale one from this handler.
	job := domain.Job{
		ID:            jobID,
		UserID:        form.UserID,
		SourceImageID: form.SourceImageID,
		Status:        domain.JobStatusQueued,
		TargetKey:     targetKey,
		WebhookURL:    form.WebhookURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed for job %s: %v", jobID, err)
		s.discardTarget(targetKey)
		writeDetail(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	taskInfo, err := s.queueClient.EnqueueSwapFace(r.Context(), queue.SwapFacePayload{
		JobID:         job.ID,
		UserID:        job.UserID,
		SourceImageID: job.SourceImageID,
		TargetKey:     job.TargetKey,
		WebhookURL:    job.WebhookURL,
		RequestedAt:   now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed for job %s: %v", job.ID, err)
		if _, markErr := s.jobStore.MarkFailed(r.Context(), job.ID, "enqueue failed"); markErr != nil {
			s.logger.Printf("mark failed for job %s: %v", job.ID, markErr)
		}
		s.discardTarget(targetKey)
		writeDetail(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     domain.JobStatusQueued,
		"queue":      taskInfo.Queue,
		"status_url": fmt.Sprintf("/v1/swap-jobs/%s", job.ID),
	})
}

func (s *Server) handleGetSwapJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		writeDetail(w, http.StatusServiceUnavailable, "async swaps are not enabled")
		return
	}

	jobID := strings.TrimSpace(r.PathValue("id"))
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %s: %v", jobID, err)
		writeDetail(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type swapForm struct {
	domain.SwapRequest
	target      []byte
	contentType string
}

// readSwapForm parses the multipart body and writes the error response itself
// when the form is unusable.
func (s *Server) readSwapForm(w http.ResponseWriter, r *http.Request) (swapForm, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, http.ErrNotMultipart):
			writeDetail(w, http.StatusUnprocessableEntity, "request must be multipart/form-data")
		default:
			writeDetail(w, http.StatusBadRequest, "invalid multipart form")
		}
		return swapForm{}, false
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	form := swapForm{
		SwapRequest: domain.SwapRequest{
			UserID:        strings.TrimSpace(r.FormValue("user_id")),
			SourceImageID: strings.TrimSpace(r.FormValue("source_image_id")),
			WebhookURL:    strings.TrimSpace(r.FormValue("webhook_url")),
		},
	}
	if err := form.Validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return swapForm{}, false
	}

	file, header, err := r.FormFile("target_image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeDetail(w, http.StatusUnprocessableEntity, "target_image is required")
			return swapForm{}, false
		}
		writeDetail(w, http.StatusBadRequest, "invalid target_image upload")
		return swapForm{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "failed to read target_image")
		return swapForm{}, false
	}
	form.target = data
	form.contentType = header.Header.Get("Content-Type")
	if form.contentType == "" {
		form.contentType = "application/octet-stream"
	}
	return form, true
}

func (s *Server) writeSwapError(w http.ResponseWriter, requestID string, req domain.SwapRequest, err error) {
	switch {
	case errors.Is(err, pipeline.ErrSourceNotFound):
		writeDetail(w, http.StatusNotFound, sourceNotFoundDetail(req.UserID, req.SourceImageID))
	case errors.Is(err, pipeline.ErrInvalidID):
		writeDetail(w, http.StatusBadRequest, "user_id and source_image_id must be plain identifiers")
	case errors.Is(err, pipeline.ErrDecodeTarget):
		writeDetail(w, http.StatusBadRequest, "target_image could not be decoded")
	case errors.Is(err, context.Canceled):
		s.logger.Printf("swap canceled request=%s source=%s", requestID, req.SourceImageID)
		writeDetail(w, http.StatusServiceUnavailable, "request canceled")
	default:
		s.logger.Printf("swap failed request=%s source=%s err=%v", requestID, req.SourceImageID, err)
		writeDetail(w, http.StatusInternalServerError, "face swap failed")
	}
}

func sourceNotFoundDetail(userID, sourceImageID string) string {
	if userID == "" {
		return fmt.Sprintf("Base photo with id %s was not found.", sourceImageID)
	}
	return fmt.Sprintf("Base photo with id %s for user %s was not found.", sourceImageID, userID)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrSourceNotFound):
		return "source_not_found"
	case errors.Is(err, pipeline.ErrInvalidID), errors.Is(err, pipeline.ErrDecodeTarget):
		return "rejected"
	default:
		return "failed"
	}
}

func (s *Server) recordUsage(ctx context.Context, usage domain.UsageLog) {
	if s.usageStore == nil {
		return
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("record usage failed for request %s: %v", usage.JobID, err)
	}
}

func (s *Server) discardTarget(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.targets.RemoveObject(ctx, key); err != nil {
		s.logger.Printf("remove parked target %s failed: %v", key, err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
