// Package config provides configuration for the elfai daemon.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the daemon configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Provider settings
	BaseURL     string
	APIKey      string
	Model       string
	ImageModel  string
	VisionModel string
	Temperature float64

	// Cancel-intent escalation
	CancelThreshold int

	// Timeouts. Zero disables the client-side deadline; streams then run
	// until finished or aborted.
	HTTPTimeout time.Duration

	// Client auth. Empty disables the hello api_key check.
	ClientKey string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Attachment policy. Empty uses the built-in policy.
	PolicyPath string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is applied first if present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("INFO: loaded environment variables from .env file")
	}

	cfg := &Config{
		HTTPPort:        getEnvInt("ELFAI_HTTP_PORT", 8080),
		DatabaseURL:     getEnv("ELFAI_DATABASE_URL", "file:elfai.db?cache=shared&mode=rwc"),
		BaseURL:         getEnv("ELFAI_BASE_URL", "https://api.openai.com"),
		APIKey:          getAPIKey(),
		Model:           getEnv("ELFAI_MODEL", "gpt-4o"),
		ImageModel:      getEnv("ELFAI_IMAGE_MODEL", "dall-e-3"),
		VisionModel:     getEnv("ELFAI_VISION_MODEL", "gpt-4o"),
		Temperature:     getEnvFloat("ELFAI_TEMPERATURE", 1.0),
		CancelThreshold: getEnvInt("ELFAI_CANCEL_THRESHOLD", 3),
		HTTPTimeout:     time.Duration(getEnvInt("ELFAI_HTTP_TIMEOUT_MS", 0)) * time.Millisecond,
		ClientKey:       getEnv("ELFAI_CLIENT_KEY", ""),
		PingInterval:    time.Duration(getEnvInt("ELFAI_WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:    time.Duration(getEnvInt("ELFAI_WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:     time.Duration(getEnvInt("ELFAI_WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:  int64(getEnvInt("ELFAI_WS_MAX_MESSAGE_SIZE", 65536)),
		PolicyPath:      getEnv("ELFAI_POLICY_PATH", ""),
		LogLevel:        getEnv("ELFAI_LOG_LEVEL", "info"),
	}
	return cfg
}

// getAPIKey prefers the elfai-specific key but falls back to the standard
// OpenAI variable so existing environments keep working.
func getAPIKey() string {
	if val := os.Getenv("ELFAI_API_KEY"); val != "" {
		return val
	}
	return os.Getenv("OPENAI_API_KEY")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
