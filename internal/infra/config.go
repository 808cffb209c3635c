package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	AllowedOrigins []string

	IdentityIssuer   string
	IdentityAudience string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiImageModel string
	GeminiVideoModel string

	VideoPollInterval time.Duration
	VideoPollTimeout  time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		IdentityIssuer:     os.Getenv("IDENTITY_ISSUER"),
		IdentityAudience:   os.Getenv("IDENTITY_AUDIENCE"),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", "projects"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiImageModel:   getEnv("GEMINI_IMAGE_MODEL", "gemini-3-pro-image-preview"),
		GeminiVideoModel:   getEnv("GEMINI_VIDEO_MODEL", "veo-3.1-generate-preview"),
		VideoPollInterval:  time.Second * time.Duration(getEnvInt("VIDEO_POLL_INTERVAL_SECONDS", 10)),
		VideoPollTimeout:   time.Second * time.Duration(getEnvInt("VIDEO_POLL_TIMEOUT_SECONDS", 600)),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 900)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.IdentityIssuer == "" {
		return nil, fmt.Errorf("IDENTITY_ISSUER is required")
	}
	if cfg.SupabaseURL == "" {
		return nil, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseServiceKey == "" {
		return nil, fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
