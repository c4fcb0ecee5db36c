package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeSwapFace = "swap:run"

type SwapFacePayload struct {
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id,omitempty"`
	SourceImageID string    `json:"source_image_id"`
	TargetKey     string    `json:"target_key"`
	WebhookURL    string    `json:"webhook_url,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

func NewSwapFaceTask(payload SwapFacePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal swap payload: %w", err)
	}
	return asynq.NewTask(TypeSwapFace, body), nil
}

func ParseSwapFacePayload(task *asynq.Task) (SwapFacePayload, error) {
	var payload SwapFacePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SwapFacePayload{}, fmt.Errorf("unmarshal swap payload: %w", err)
	}
	if payload.JobID == "" || payload.SourceImageID == "" || payload.TargetKey == "" {
		return SwapFacePayload{}, fmt.Errorf("swap payload is missing job_id, source_image_id or target_key")
	}
	return payload, nil
}
