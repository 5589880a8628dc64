package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds client configuration
type Config struct {
	APIBaseURL  string
	RealtimeURL string
	Origin      string
	Env         string
	LogLevel    string
	LogFormat   string
	HTTPTimeout time.Duration

	// Local state (token, user, googleTokens, theme)
	StateBackend   string
	StateFile      string
	StateKeyPrefix string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisTLS       bool

	// Reminders
	ReminderWindow time.Duration
	ReminderPolicy string

	// Realtime channel
	RealtimeRoom              string
	RealtimeTypingTTL         time.Duration
	RealtimeTypingRate        float64
	RealtimeReconnectBase     time.Duration
	RealtimeReconnectMax      time.Duration
	RealtimeReconnectAttempts int
	RealtimeAckTimeout        time.Duration

	// Attachment uploads
	UploadBackend       string
	S3Bucket            string
	S3Prefix            string
	S3PublicBaseURL     string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	MetricsEnabled bool
}

const (
	StateBackendMemory = "memory"
	StateBackendFile   = "file"
	StateBackendRedis  = "redis"

	ReminderPolicyEveryReload    = "every_reload"
	ReminderPolicyOncePerBooking = "once_per_booking"

	UploadBackendHTTP = "http"
	UploadBackendS3   = "s3"
)

// Load reads configuration from environment variables
func Load() *Config {
	apiBase := strings.TrimRight(getEnv("HOMEPRO_API_BASE_URL", "http://localhost:5000/api"), "/")
	return &Config{
		APIBaseURL:  apiBase,
		RealtimeURL: getEnv("HOMEPRO_REALTIME_URL", deriveRealtimeURL(apiBase)),
		Origin:      getEnv("HOMEPRO_ORIGIN", "http://localhost:5000"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		HTTPTimeout: getEnvAsDuration("HTTP_TIMEOUT", 15*time.Second),

		StateBackend:   strings.ToLower(strings.TrimSpace(getEnv("STATE_BACKEND", StateBackendFile))),
		StateFile:      getEnv("STATE_FILE", defaultStateFile()),
		StateKeyPrefix: getEnv("STATE_KEY_PREFIX", "homepro:"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),

		ReminderWindow: getEnvAsDuration("REMINDER_WINDOW", 24*time.Hour),
		ReminderPolicy: strings.ToLower(strings.TrimSpace(getEnv("REMINDER_POLICY", ReminderPolicyEveryReload))),

		RealtimeRoom:              getEnv("REALTIME_ROOM", "global"),
		RealtimeTypingTTL:         getEnvAsDuration("REALTIME_TYPING_TTL", 2500*time.Millisecond),
		RealtimeTypingRate:        getEnvAsFloat("REALTIME_TYPING_RATE", 2),
		RealtimeReconnectBase:     getEnvAsDuration("REALTIME_RECONNECT_BASE", 500*time.Millisecond),
		RealtimeReconnectMax:      getEnvAsDuration("REALTIME_RECONNECT_MAX", 30*time.Second),
		RealtimeReconnectAttempts: getEnvAsInt("REALTIME_RECONNECT_ATTEMPTS", 10),
		RealtimeAckTimeout:        getEnvAsDuration("REALTIME_ACK_TIMEOUT", 10*time.Second),

		UploadBackend:       strings.ToLower(strings.TrimSpace(getEnv("UPLOAD_BACKEND", UploadBackendHTTP))),
		S3Bucket:            getEnv("S3_BUCKET", ""),
		S3Prefix:            getEnv("S3_PREFIX", "chat/"),
		S3PublicBaseURL:     getEnv("S3_PUBLIC_BASE_URL", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", false),
	}
}

// Validate rejects settings the client cannot act on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("config: HOMEPRO_API_BASE_URL is required")
	}
	switch c.StateBackend {
	case StateBackendMemory, StateBackendFile, StateBackendRedis:
	default:
		return fmt.Errorf("config: unknown STATE_BACKEND %q", c.StateBackend)
	}
	switch c.ReminderPolicy {
	case ReminderPolicyEveryReload, ReminderPolicyOncePerBooking:
	default:
		return fmt.Errorf("config: unknown REMINDER_POLICY %q", c.ReminderPolicy)
	}
	switch c.UploadBackend {
	case UploadBackendHTTP:
	case UploadBackendS3:
		if strings.TrimSpace(c.S3Bucket) == "" {
			return fmt.Errorf("config: S3_BUCKET is required when UPLOAD_BACKEND=s3")
		}
	default:
		return fmt.Errorf("config: unknown UPLOAD_BACKEND %q", c.UploadBackend)
	}
	return nil
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// deriveRealtimeURL maps http(s)://host/... to ws(s)://host/ws.
func deriveRealtimeURL(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: "/ws"}).String()
}

func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "homepro", "state.json")
	}
	return filepath.Join(home, ".homepro", "state.json")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := strings.TrimSuffix(getEnv(key, ""), "/s")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
