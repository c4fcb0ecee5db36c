package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/dunamismax/swapflow/internal/pipeline"
)

type Config struct {
	API        APIConfig
	Swap       SwapConfig
	FaceFusion FaceFusionConfig
	Queue      QueueConfig
	Worker     WorkerConfig
	Storage    StorageConfig
	Database   DatabaseConfig
	Webhook    WebhookConfig
	RateLimit  RateLimitConfig
	Telemetry  TelemetryConfig
	Models     ModelsConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
	WriteTimeout   time.Duration
}

type SwapConfig struct {
	SourcesRoot string
	ScratchDir  string
	KeyPrefix   string
	URLExpiry   time.Duration
	JPEGQuality int
	MaxPixels   int64
}

type FaceFusionConfig struct {
	Command  string
	Args     []string
	WorkDir  string
	Timeout  time.Duration
	MaxProcs int
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	MaxRetry      int
	TaskTimeout   time.Duration
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Driver    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	// DSN selects the postgres job store; empty keeps jobs in memory.
	DSN string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type RateLimitConfig struct {
	Enabled    bool
	Capacity   int
	Window     time.Duration
	UserHeader string
	KeyPrefix  string
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type ModelsConfig struct {
	Dir         string
	Concurrency int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; variables already set win.
func Load() Config {
	_ = godotenv.Load()

	workDir := env("FACEFUSION_WORKDIR", "/facefusion-custom")

	return Config{
		API: APIConfig{
			Addr:           env("SWAPFLOW_API_ADDR", ":8080"),
			MaxUploadBytes: int64(envInt("SWAPFLOW_MAX_UPLOAD_BYTES", 32<<20)),
			WriteTimeout:   envDuration("SWAPFLOW_API_WRITE_TIMEOUT", 15*time.Minute),
		},
		Swap: SwapConfig{
			SourcesRoot: env("SWAPFLOW_SOURCES_ROOT", "/face-sources"),
			ScratchDir:  env("SWAPFLOW_SCRATCH_DIR", workDir+"/tmp"),
			KeyPrefix:   env("SWAPFLOW_KEY_PREFIX", ""),
			URLExpiry:   envDuration("SWAPFLOW_URL_EXPIRY", pipeline.DefaultURLExpiry),
			JPEGQuality: envInt("SWAPFLOW_JPEG_QUALITY", 75),
			MaxPixels:   int64(envInt("SWAPFLOW_MAX_PIXELS", int(pipeline.DefaultMaxPixels))),
		},
		FaceFusion: FaceFusionConfig{
			Command:  env("FACEFUSION_COMMAND", "python"),
			Args:     envFields("FACEFUSION_ARGS", []string{"run.py"}),
			WorkDir:  workDir,
			Timeout:  envDuration("FACEFUSION_TIMEOUT", 10*time.Minute),
			MaxProcs: envInt("FACEFUSION_MAX_PROCS", 1),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "swaps"),
			MaxRetry:      envInt("ASYNC_MAX_RETRY", 2),
			TaskTimeout:   envDuration("ASYNC_TASK_TIMEOUT", 15*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", 1),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Driver:    strings.ToLower(env("STORAGE_DRIVER", "s3")),
			Endpoint:  env("STORAGE_ENDPOINT", ""),
			AccessKey: env("AWS_ACCESS_KEY_ID", ""),
			SecretKey: env("AWS_SECRET_ACCESS_KEY", ""),
			Region:    env("AWS_REGION", "us-east-1"),
			Bucket:    env("STORAGE_BUCKET", "faceswap-outputs"),
			UseSSL:    envBool("STORAGE_USE_SSL", true),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:    envBool("RATE_LIMIT_ENABLED", false),
			Capacity:   envInt("RATE_LIMIT_CAPACITY", 10),
			Window:     envDuration("RATE_LIMIT_WINDOW", time.Minute),
			UserHeader: env("RATE_LIMIT_USER_HEADER", "X-User-ID"),
			KeyPrefix:  env("RATE_LIMIT_KEY_PREFIX", "swapflow:ratelimit"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "swapflow"),
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio:  envFloat("TRACE_SAMPLE_RATIO", 1),
		},
		Models: ModelsConfig{
			Dir:         env("FACEFUSION_MODELS_DIR", workDir+"/.assets/models"),
			Concurrency: envInt("MODELS_PROBE_CONCURRENCY", max(1, runtime.NumCPU())),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFields(key string, fallback []string) []string {
	value := strings.TrimSpace(env(key, ""))
	if value == "" {
		return fallback
	}
	return strings.Fields(value)
}
