// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingAPIKey is returned when GOOGLE_API_KEY is not set.
var ErrMissingAPIKey = errors.New("GOOGLE_API_KEY is not set")

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	GoogleAPIKey    string
	LessonPath      string
	ModelName       string
	MetricsEnabled  bool
	Tutor           TutorConfig
	Speech          SpeechConfig
	Voice           VoiceInputConfig
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// TutorConfig names the persona the model plays.
type TutorConfig struct {
	Name    string
	Academy string
}

// SpeechConfig controls text-to-speech output.
type SpeechConfig struct {
	Enabled      bool
	LanguageCode string
	VoiceName    string
	SpeakingRate float64
}

// VoiceInputConfig is handed to the browser transcription widget.
type VoiceInputConfig struct {
	Language    string `json:"language"`
	StartPrompt string `json:"start_prompt"`
	StopPrompt  string `json:"stop_prompt"`
	JustOnce    bool   `json:"just_once"`
}

// RateLimitConfig bounds model calls per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
	MaxBodyBytes      int64
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	MaxOpenFiles  int
}

// Load reads configuration from environment variables.
// A missing API key is reported before any other validation.
func Load() (*Config, error) {
	apiKey := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/tutor.db"),
		GoogleAPIKey:   apiKey,
		LessonPath:     getEnv("LESSON_PATH", "./LSA Lesson.txt"),
		ModelName:      getEnv("MODEL_NAME", "gemini-flash-latest"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		Tutor: TutorConfig{
			Name:    getEnv("TUTOR_NAME", "Judy"),
			Academy: getEnv("TUTOR_ACADEMY", "LSA English Academy"),
		},
		Speech: SpeechConfig{
			Enabled:      getEnvBool("TTS_ENABLED", true),
			LanguageCode: "en-US",
			VoiceName:    getEnv("TTS_VOICE", ""),
			SpeakingRate: 1.0,
		},
		Voice: VoiceInputConfig{
			Language:    "en",
			StartPrompt: getEnv("VOICE_START_PROMPT", "🎙️ Answer by voice"),
			StopPrompt:  getEnv("VOICE_STOP_PROMPT", "⏹️ Done"),
			JustOnce:    true,
		},
		SessionTTL:    getEnvDuration("SESSION_TTL", 60*time.Minute),
		SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			MaxBodyBytes:      int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 64<<10)),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
			MaxOpenFiles:  getEnvInt("CONVERSATION_LOG_MAX_OPEN_FILES", 64),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.GoogleAPIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LessonPath == "" {
		return fmt.Errorf("LESSON_PATH cannot be empty")
	}
	if c.ModelName == "" {
		return fmt.Errorf("MODEL_NAME cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.RateLimit.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.MaxOpenFiles <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_MAX_OPEN_FILES must be > 0")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
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
