package domain

import "time"

type UsageLog struct {
	UserID        string
	JobID         string
	SourceImageID string
	OutputBytes   int64
	ComputeTimeMS int64
	CreatedAt     time.Time
}
