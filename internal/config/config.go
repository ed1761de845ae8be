package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values.
type Config struct {
	// Upstream ARITANA API
	APIURL        string
	ClientTimeout time.Duration
	RateLimit     float64

	// Job monitoring
	PollInterval time.Duration
	MaxRetries   int

	// Data cache
	CacheTTL time.Duration

	// Local dashboard server
	DashboardPort    string
	DashboardOrigins []string
	// UploadRateLimit is uploads and refreshes allowed per client IP per minute.
	UploadRateLimit int

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// Poll interval, retry bound and cache TTL default to the values the
// browser dashboard used (2s, 3 attempts, 10 minutes).
func Load() Config {
	return Config{
		APIURL:        strings.TrimRight(getEnv("ARITANA_API_URL", "http://localhost:8000"), "/"),
		ClientTimeout: getDuration("ARITANA_CLIENT_TIMEOUT", 30*time.Second),
		RateLimit:     getFloat("ARITANA_RATE_LIMIT", 10),

		PollInterval: getDuration("ARITANA_POLL_INTERVAL", 2*time.Second),
		MaxRetries:   getInt("ARITANA_MAX_RETRIES", 3),

		CacheTTL: getDuration("ARITANA_CACHE_TTL", 10*time.Minute),

		DashboardPort:    getEnv("ARITANA_DASHBOARD_PORT", "8585"),
		DashboardOrigins: getList("ARITANA_DASHBOARD_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),
		UploadRateLimit:  getInt("ARITANA_UPLOAD_RATE_LIMIT", 10),

		LogFile:  getEnv("ARITANA_LOG_FILE", "/tmp/aritana.log"),
		LogLevel: parseLogLevel(getEnv("ARITANA_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getDuration accepts Go duration strings ("2s", "10m") and falls back to the
// default on anything unparsable or non-positive.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func getFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

// getList splits a comma-separated value, dropping empty items.
func getList(key string, defaultVal []string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
