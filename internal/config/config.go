// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sistemas-dev/sistemas/internal/transcript"
)

// CredentialSource says where the model API key comes from.
type CredentialSource string

const (
	// CredentialUser means each browser supplies its own key.
	CredentialUser CredentialSource = "user"
	// CredentialHost means the server's GEMINI_API_KEY is used for everyone.
	CredentialHost CredentialSource = "host"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	GRPCPort         string // empty disables the gRPC health server
	FrontendURL      string
	DBPath           string
	SessionTTL       time.Duration
	SweepInterval    time.Duration
	CredentialSource CredentialSource
	APIKey           string
	Text             TextConfig
	Voice            VoiceConfig
	ConversationLog  transcript.ConversationLogConfig
}

// TextConfig tunes text turns.
type TextConfig struct {
	Model       string
	Temperature float32
	TopP        float32
	Timeout     time.Duration
}

// VoiceConfig tunes live voice sessions.
type VoiceConfig struct {
	Model            string
	Voice            string
	InputSampleRate  int
	OutputSampleRate int
	SnapshotInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		GRPCPort:         getEnv("GRPC_PORT", ""),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/sistemas.db"),
		SessionTTL:       getEnvDuration("SESSION_TTL", 60*time.Minute),
		SweepInterval:    getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		CredentialSource: CredentialSource(strings.ToLower(getEnv("CREDENTIAL_SOURCE", string(CredentialUser)))),
		APIKey:           getEnv("GEMINI_API_KEY", ""),
		Text: TextConfig{
			Model:       getEnv("TEXT_MODEL", "gemini-3-flash-preview"),
			Temperature: getEnvFloat32("TEXT_TEMPERATURE", 0.7),
			TopP:        getEnvFloat32("TEXT_TOP_P", 0.95),
			Timeout:     getEnvDuration("TEXT_TIMEOUT", 60*time.Second),
		},
		Voice: VoiceConfig{
			Model:            getEnv("VOICE_MODEL", "gemini-2.5-flash-native-audio-preview-12-2025"),
			Voice:            getEnv("VOICE_NAME", "Zephyr"),
			InputSampleRate:  getEnvInt("VOICE_INPUT_SAMPLE_RATE", 16000),
			OutputSampleRate: getEnvInt("VOICE_OUTPUT_SAMPLE_RATE", 24000),
			SnapshotInterval: getEnvDuration("VOICE_SNAPSHOT_INTERVAL", 2*time.Second),
		},
		ConversationLog: transcript.ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.CredentialSource {
	case CredentialUser:
	case CredentialHost:
		if c.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when CREDENTIAL_SOURCE=host")
		}
	default:
		return fmt.Errorf("CREDENTIAL_SOURCE must be %q or %q, got %q", CredentialUser, CredentialHost, c.CredentialSource)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Text.Model == "" || c.Voice.Model == "" {
		return fmt.Errorf("TEXT_MODEL and VOICE_MODEL cannot be empty")
	}
	if c.Text.Temperature < 0 || c.Text.Temperature > 2 {
		return fmt.Errorf("TEXT_TEMPERATURE must be within [0, 2]")
	}
	if c.Text.TopP <= 0 || c.Text.TopP > 1 {
		return fmt.Errorf("TEXT_TOP_P must be within (0, 1]")
	}
	if c.Voice.InputSampleRate <= 0 || c.Voice.OutputSampleRate <= 0 {
		return fmt.Errorf("voice sample rates must be > 0")
	}
	if c.Voice.SnapshotInterval <= 0 {
		return fmt.Errorf("VOICE_SNAPSHOT_INTERVAL must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat32(key string, fallback float32) float32 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
