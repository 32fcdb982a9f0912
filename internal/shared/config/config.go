package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Env             string
	Port            string
	LogLevel        string
	CORSAllowOrigin []string
	DatabaseURL     string
	JWTSecret       string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	JobStoreURL     string
	JobSource       string
	SupabaseURL     string
	SupabaseAnonKey string
	SupabaseBucket  string
	UIRedirectURL   string
	AuthRedirectURL string
	QCEventsSQSURL  string

	PollActiveInterval  time.Duration
	PollSummaryInterval time.Duration
	AssumedProcessing   time.Duration
	SessionIdleTimeout  time.Duration
	AuthTimeout         time.Duration
	ProbeTimeout        time.Duration

	FFprobePath    string
	FFmpegPath     string
	UploadTmpDir   string
	MaxUploadBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")
	jobStoreURL := strings.TrimRight(getEnv("JOB_STORE_URL", "http://localhost:8000"), "/")

	if env == "production" {
		if dbURL == "" {
			log.Printf("DATABASE_URL is required in production")
		}
		if os.Getenv("JWT_SECRET") == "" {
			log.Printf("JWT_SECRET is required in production")
		}
	}

	return Config{
		Env:             env,
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     dbURL,
		JWTSecret:       getEnv("JWT_SECRET", ""),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		JobStoreURL:     jobStoreURL,
		JobSource:       normalizeJobSource(getEnv("JOB_SOURCE", "rest")),
		SupabaseURL:     getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey: getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseBucket:  getEnv("SUPABASE_BUCKET", "videos"),
		UIRedirectURL:   getEnv("UI_REDIRECT_URL", "http://localhost:5173"),
		AuthRedirectURL: getEnv("AUTH_REDIRECT_URL", "http://localhost:8080/api/v1/auth/google/callback"),
		QCEventsSQSURL:  getEnv("QC_EVENTS_SQS_URL", ""),

		PollActiveInterval:  getDuration("POLL_ACTIVE_INTERVAL", 3*time.Second),
		PollSummaryInterval: getDuration("POLL_SUMMARY_INTERVAL", 5*time.Second),
		AssumedProcessing:   getDuration("ASSUMED_PROCESSING", 15*time.Second),
		SessionIdleTimeout:  getDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		AuthTimeout:         getDuration("AUTH_TIMEOUT", 5*time.Second),
		ProbeTimeout:        getDuration("PROBE_TIMEOUT", time.Minute),

		FFprobePath:    getEnv("FFPROBE_PATH", "ffprobe"),
		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
		UploadTmpDir:   getEnv("UPLOAD_TMP_DIR", os.TempDir()),
		MaxUploadBytes: getInt64("MAX_UPLOAD_BYTES", 1<<30),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getDuration accepts Go duration strings ("3s") or whole seconds ("3").
func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	log.Printf("invalid %s=%q, using %s", key, raw, def)
	return def
}

func getInt64(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		log.Printf("invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return n
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "supabase":
		return "supabase"
	default:
		return "local"
	}
}

func normalizeJobSource(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), "supabase") {
		return "supabase"
	}
	return "rest"
}
