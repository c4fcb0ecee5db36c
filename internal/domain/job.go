package domain

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// SwapRequest carries the form fields of a swap request. The target image
// bytes travel separately.
type SwapRequest struct {
	UserID        string
	SourceImageID string
	WebhookURL    string
}

type SwapResult struct {
	ImageURL string `json:"image_url"`
	S3URI    string `json:"s3_uri"`
}

// Job is an asynchronous swap tracked between the API and the worker.
type Job struct {
	ID            string    `json:"job_id"`
	UserID        string    `json:"user_id,omitempty"`
	SourceImageID string    `json:"source_image_id"`
	Status        string    `json:"status"`
	TargetKey     string    `json:"-"`
	WebhookURL    string    `json:"webhook_url,omitempty"`
	ObjectKey     string    `json:"object_key,omitempty"`
	S3URI         string    `json:"s3_uri,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (r SwapRequest) Validate() error {
	if strings.TrimSpace(r.SourceImageID) == "" {
		return errors.New("source_image_id is required")
	}
	if webhook := strings.TrimSpace(r.WebhookURL); webhook != "" {
		u, err := url.Parse(webhook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("webhook_url must be an absolute http(s) URL")
		}
	}
	return nil
}

func (j Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
