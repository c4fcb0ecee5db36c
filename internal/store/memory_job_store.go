package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/swapflow/internal/domain"
)

type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.Job
	usage []domain.UsageLog
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) error {
		if job.Terminal() {
			return ErrJobFinished
		}
		job.Status = status
		return nil
	})
}

func (s *MemoryJobStore) MarkSucceeded(_ context.Context, id string, result Completion) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) error {
		job.Status = domain.JobStatusSucceeded
		job.ObjectKey = result.ObjectKey
		job.S3URI = result.S3URI
		job.ImageURL = result.ImageURL
		job.Error = ""
		return nil
	})
}

func (s *MemoryJobStore) MarkFailed(_ context.Context, id, reason string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) error {
		job.Status = domain.JobStatusFailed
		job.Error = reason
		return nil
	})
}

func (s *MemoryJobStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

// UsageLogs returns a copy of the recorded usage entries.
func (s *MemoryJobStore) UsageLogs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.UsageLog(nil), s.usage...)
}

func (s *MemoryJobStore) update(id string, apply func(*domain.Job) error) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	if err := apply(&job); err != nil {
		return job, err
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}
