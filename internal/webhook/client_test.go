package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendSignsDelivery(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotBody []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    1,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})

	err := client.Send(context.Background(), srv.URL, EventSwapCompleted, Event{
		JobID:  "job-1",
		Status: "succeeded",
		S3URI:  "s3://faceswap-outputs/a.jpeg",
	})
	if err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotEvt != EventSwapCompleted {
		t.Fatalf("expected event header %s, got %q", EventSwapCompleted, gotEvt)
	}
	if err := Verify("test-secret", gotTS, gotSig, gotBody, time.Minute, time.Now()); err != nil {
		t.Fatalf("expected delivery to verify: %v", err)
	}
	if err := Verify("other-secret", gotTS, gotSig, gotBody, 0, time.Now()); err == nil {
		t.Fatal("expected verification with the wrong secret to fail")
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	if err := client.Send(context.Background(), srv.URL, EventSwapFailed, Event{JobID: "job-2"}); err != nil {
		t.Fatalf("expected delivery on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	client := NewClient(Config{MaxAttempts: 5, InitialBackoff: time.Millisecond})
	if err := client.Send(context.Background(), srv.URL, EventSwapFailed, Event{JobID: "job-3"}); err == nil {
		t.Fatal("expected error for 410")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	if err := NewClient(Config{}).Send(context.Background(), "  ", EventSwapCompleted, Event{}); err != nil {
		t.Fatalf("expected no-op for empty endpoint, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{"job_id":"job-1"}`)
	ts := "1700000000"
	sig := Sign("s", ts, body)

	if err := Verify("s", ts, sig, body, time.Minute, time.Unix(1700000000, 0).Add(time.Hour)); err == nil {
		t.Fatal("expected stale timestamp to be rejected")
	}
	if err := Verify("s", ts, sig, body, time.Minute, time.Unix(1700000030, 0)); err != nil {
		t.Fatalf("expected timestamp within tolerance, got %v", err)
	}
}
