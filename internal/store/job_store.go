package store

import (
	"context"
	"errors"

	"github.com/dunamismax/swapflow/internal/domain"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when a status update would move a job out of
	// succeeded or failed.
	ErrJobFinished = errors.New("job already finished")
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	MarkSucceeded(ctx context.Context, id string, result Completion) (domain.Job, error)
	MarkFailed(ctx context.Context, id, reason string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}

type Completion struct {
	ObjectKey string
	S3URI     string
	ImageURL  string
}
