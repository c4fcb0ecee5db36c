package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

func TestSwapFaceTaskRoundTrip(t *testing.T) {
	payload := SwapFacePayload{
		JobID:         "job-123",
		UserID:        "user-1",
		SourceImageID: "face-1",
		TargetKey:     "targets/job-123",
		WebhookURL:    "https://hooks.example.com/swap",
		RequestedAt:   time.Now().UTC(),
	}

	task, err := NewSwapFaceTask(payload)
	if err != nil {
		t.Fatalf("NewSwapFaceTask returned error: %v", err)
	}
	if task.Type() != TypeSwapFace {
		t.Fatalf("expected task type %s, got %s", TypeSwapFace, task.Type())
	}

	parsed, err := ParseSwapFacePayload(task)
	if err != nil {
		t.Fatalf("ParseSwapFacePayload returned error: %v", err)
	}
	if parsed.JobID != payload.JobID || parsed.TargetKey != payload.TargetKey {
		t.Fatalf("unexpected parsed payload %+v", parsed)
	}
}

func TestParseSwapFacePayloadRejectsIncomplete(t *testing.T) {
	if _, err := ParseSwapFacePayload(asynq.NewTask(TypeSwapFace, []byte(`{"job_id":"job-1"}`))); err == nil {
		t.Fatal("expected error for missing fields")
	}
	if _, err := ParseSwapFacePayload(asynq.NewTask(TypeSwapFace, []byte(`not json`))); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
