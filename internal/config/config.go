package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of the service. All values come from the
// environment so deployments never need a rebuild.
type Config struct {
	ListenAddr string
	BaseURL    string
	DBPath     string

	// Storage selects the blob backend: "filesystem" or "minio".
	StorageBackend string
	StoragePath    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	RedisAddr string
	JWTSecret string

	MaxUploadBytes int64
	AllowedTypes   []string
	ImageQuota     int

	WorkerCount    int
	MaxJobAttempts int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

func Load() *Config {
	return &Config{
		ListenAddr: getEnv("IMGFLOW_LISTEN_ADDR", ":8080"),
		BaseURL:    getEnv("IMGFLOW_BASE_URL", "http://localhost:8080"),
		DBPath:     getEnv("IMGFLOW_DB_PATH", "/data/db/imageflow.db"),

		StorageBackend: getEnv("IMGFLOW_STORAGE_BACKEND", "filesystem"),
		StoragePath:    getEnv("IMGFLOW_STORAGE_PATH", "/data/blobs"),
		MinioEndpoint:  getEnv("IMGFLOW_MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("IMGFLOW_MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("IMGFLOW_MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("IMGFLOW_MINIO_BUCKET", "imageflow"),
		MinioUseSSL:    getEnv("IMGFLOW_MINIO_USE_SSL", "") == "true",

		RedisAddr: getEnv("IMGFLOW_REDIS_ADDR", "localhost:6379"),
		JWTSecret: getEnv("IMGFLOW_JWT_SECRET", ""),

		MaxUploadBytes: getEnvInt64("IMGFLOW_MAX_UPLOAD_BYTES", 5<<20),
		AllowedTypes:   getEnvList("IMGFLOW_ALLOWED_TYPES", []string{"image/jpeg", "image/png", "image/gif"}),
		ImageQuota:     getEnvInt("IMGFLOW_IMAGE_QUOTA", 20),

		WorkerCount:    getEnvInt("IMGFLOW_WORKER_COUNT", 4),
		MaxJobAttempts: getEnvInt("IMGFLOW_MAX_JOB_ATTEMPTS", 3),
		BackoffBase:    getEnvDuration("IMGFLOW_BACKOFF_BASE", 500*time.Millisecond),
		BackoffMax:     getEnvDuration("IMGFLOW_BACKOFF_MAX", 30*time.Second),
	}
}

// TypeAllowed reports whether contentType is on the upload allow-list.
func (c *Config) TypeAllowed(contentType string) bool {
	for _, t := range c.AllowedTypes {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvInt64(key string, defaultValue int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
