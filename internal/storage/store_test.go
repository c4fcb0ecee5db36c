package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

const sevenDays = 604800 * time.Second

func TestMinioPresignedGetURLExpiry(t *testing.T) {
	client, err := NewClient(Config{
		Endpoint: "localhost:9000",
		Access:   "test-access",
		Secret:   "test-secret",
		Region:   "us-east-1",
		Bucket:   "faceswap-outputs",
	})
	if err != nil {
		t.Fatalf("new minio client: %v", err)
	}

	raw, err := client.PresignedGetURL(context.Background(), "abc.jpeg", sevenDays)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	assertExpiry(t, raw, "604800")

	if !strings.Contains(raw, "/faceswap-outputs/abc.jpeg") {
		t.Fatalf("expected bucket and key in url path, got %s", raw)
	}
}

func TestS3PresignedGetURLExpiry(t *testing.T) {
	client, err := NewS3Client(context.Background(), Config{
		Endpoint: "localhost:9000",
		Access:   "test-access",
		Secret:   "test-secret",
		Region:   "us-east-1",
		Bucket:   "faceswap-outputs",
	})
	if err != nil {
		t.Fatalf("new s3 client: %v", err)
	}

	raw, err := client.PresignedGetURL(context.Background(), "abc.jpeg", sevenDays)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	assertExpiry(t, raw, "604800")

	if !strings.HasPrefix(raw, "http://localhost:9000/faceswap-outputs/abc.jpeg") {
		t.Fatalf("expected path-style url against the custom endpoint, got %s", raw)
	}
}

func TestURI(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "localhost:9000", Bucket: "faceswap-outputs", Region: "us-east-1"})
	if err != nil {
		t.Fatalf("new minio client: %v", err)
	}
	if got := client.URI("k.jpeg"); got != "s3://faceswap-outputs/k.jpeg" {
		t.Fatalf("unexpected uri %s", got)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(context.Background(), Config{Driver: "gcs", Bucket: "b"}); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestNewClientRequiresEndpointAndBucket(t *testing.T) {
	if _, err := NewClient(Config{Bucket: "b"}); err == nil {
		t.Fatal("expected missing endpoint error")
	}
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected missing bucket error")
	}
}

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{"", true, ""},
		{"minio:9000", false, "http://minio:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"http://minio:9000/", true, "http://minio:9000"},
	}
	for _, tc := range cases {
		if got := endpointURL(tc.endpoint, tc.ssl); got != tc.want {
			t.Fatalf("endpointURL(%q, %v) = %q, want %q", tc.endpoint, tc.ssl, got, tc.want)
		}
	}
}

func assertExpiry(t *testing.T, raw, want string) {
	t.Helper()

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse presigned url: %v", err)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != want {
		t.Fatalf("expected X-Amz-Expires=%s, got %q", want, got)
	}
}
