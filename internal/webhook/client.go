package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Swapflow-Signature"
	HeaderTimestamp = "X-Swapflow-Timestamp"
	HeaderEvent     = "X-Swapflow-Event"

	EventSwapCompleted = "swap.completed"
	EventSwapFailed    = "swap.failed"

	signaturePrefix = "sha256="
)

// Event is the body delivered for swap job transitions.
type Event struct {
	JobID         string    `json:"job_id"`
	Status        string    `json:"status"`
	UserID        string    `json:"user_id,omitempty"`
	SourceImageID string    `json:"source_image_id"`
	ImageURL      string    `json:"image_url,omitempty"`
	S3URI         string    `json:"s3_uri,omitempty"`
	Error         string    `json:"error,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    max(1, cfg.MaxAttempts),
		initialBackoff: initialBackoff,
		maxBackoff:     max(cfg.MaxBackoff, initialBackoff),
	}
}

func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	signature := Sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "swapflow-webhook/1")
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderSignature, signature)
		req.Header.Set(HeaderEvent, event)

		resp, err := c.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("webhook returned status=%d", resp.StatusCode)
			if !retryableStatus(resp.StatusCode) {
				return lastErr
			}
		} else {
			lastErr = err
		}

		if attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// Sign computes the signature header value over "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received delivery. Receivers should also reject stale
// timestamps; maxSkew <= 0 disables that check.
func Verify(secret, timestamp, signature string, body []byte, maxSkew time.Duration, now time.Time) error {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return errors.New("malformed signature")
	}
	if !hmac.Equal([]byte(signature), []byte(Sign(secret, timestamp, body))) {
		return errors.New("signature mismatch")
	}
	if maxSkew > 0 {
		sec, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("malformed timestamp: %w", err)
		}
		if skew := now.Sub(time.Unix(sec, 0)); skew > maxSkew || skew < -maxSkew {
			return fmt.Errorf("timestamp outside tolerance: %s", skew)
		}
	}
	return nil
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
