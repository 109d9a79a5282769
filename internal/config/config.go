package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Environment string
	HTTPAddr    string
	DataDir     string
	DBPath      string

	ProfileIDSalt  string
	BotDisplayName string

	QueueMaxSize        int
	QueuePollSec        int
	ErrorBackoffSec     int
	StopTimeoutSec      int
	AnalysisProbability float64
	AnalysisHistoryLim  int

	SobriquetMinLength     int
	SobriquetMaxLength     int
	MaxSobriquetsInPrompt  int
	ProbabilitySmoothing   float64
	RecentSpeakersLimit    int
	PromptTemplateFile     string
	MaintenanceCron        string
	MaintenanceTimezone    string

	LLMProvider   string // openai-compatible chat completions
	LLMBaseURL    string
	LLMAPIKey     string
	LLMModel      string
	LLMTimeoutSec int

	OneBotWSURL       string
	OneBotAccessToken string
	OneBotSelfID      string
}

func FromEnv() Config {
	dataDir := stringOrDefault("SOBRIQUET_DATA_DIR", "/data")
	dbPath := stringOrDefault("SOBRIQUET_DB_PATH", filepath.Join(dataDir, "sobriquet", "profiles.sqlite"))

	return Config{
		Environment: stringOrDefault("SOBRIQUET_ENV", "development"),
		HTTPAddr:    stringOrDefault("SOBRIQUET_HTTP_ADDR", ":8087"),
		DataDir:     dataDir,
		DBPath:      dbPath,

		ProfileIDSalt:  strings.TrimSpace(os.Getenv("SOBRIQUET_PROFILE_ID_SALT")),
		BotDisplayName: stringOrDefault("SOBRIQUET_BOT_DISPLAY_NAME", "sobriquetd"),

		QueueMaxSize:        intOrDefault("SOBRIQUET_QUEUE_MAX_SIZE", 64),
		QueuePollSec:        intOrDefault("SOBRIQUET_QUEUE_POLL_SECONDS", 5),
		ErrorBackoffSec:     intOrDefault("SOBRIQUET_ERROR_BACKOFF_SECONDS", 10),
		StopTimeoutSec:      intOrDefault("SOBRIQUET_STOP_TIMEOUT_SECONDS", 10),
		AnalysisProbability: floatOrDefault("SOBRIQUET_ANALYSIS_PROBABILITY", 1.0),
		AnalysisHistoryLim:  intOrDefault("SOBRIQUET_ANALYSIS_HISTORY_LIMIT", 30),

		SobriquetMinLength:    intOrDefault("SOBRIQUET_MIN_LENGTH", 2),
		SobriquetMaxLength:    intOrDefault("SOBRIQUET_MAX_LENGTH", 16),
		MaxSobriquetsInPrompt: intOrDefault("SOBRIQUET_MAX_IN_PROMPT", 5),
		ProbabilitySmoothing:  floatOrDefault("SOBRIQUET_PROBABILITY_SMOOTHING", 1.0),
		RecentSpeakersLimit:   intOrDefault("SOBRIQUET_RECENT_SPEAKERS_LIMIT", 8),
		PromptTemplateFile:    strings.TrimSpace(os.Getenv("SOBRIQUET_PROMPT_TEMPLATE_FILE")),
		MaintenanceCron:       strings.TrimSpace(os.Getenv("SOBRIQUET_MAINTENANCE_CRON")),
		MaintenanceTimezone:   stringOrDefault("SOBRIQUET_MAINTENANCE_TIMEZONE", "UTC"),

		LLMProvider:   stringOrDefault("SOBRIQUET_LLM_PROVIDER", "openai"),
		LLMBaseURL:    stringOrDefault("SOBRIQUET_LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:     strings.TrimSpace(os.Getenv("SOBRIQUET_LLM_API_KEY")),
		LLMModel:      stringOrDefault("SOBRIQUET_LLM_MODEL", "gpt-4o-mini"),
		LLMTimeoutSec: intOrDefault("SOBRIQUET_LLM_TIMEOUT_SECONDS", 60),

		OneBotWSURL:       strings.TrimSpace(os.Getenv("SOBRIQUET_ONEBOT_WS_URL")),
		OneBotAccessToken: os.Getenv("SOBRIQUET_ONEBOT_ACCESS_TOKEN"),
		OneBotSelfID:      strings.TrimSpace(os.Getenv("SOBRIQUET_ONEBOT_SELF_ID")),
	}
}

// Validate reports the configuration problems that make the analysis
// pipeline unusable. A non-nil result disables enqueueing for the whole
// process lifetime.
func (c Config) Validate() error {
	if c.ProfileIDSalt == "" {
		return fmt.Errorf("SOBRIQUET_PROFILE_ID_SALT is required: rotating or omitting the salt orphans every stored profile")
	}
	if c.MaxSobriquetsInPrompt < 1 {
		return fmt.Errorf("SOBRIQUET_MAX_IN_PROMPT must be positive, got %d", c.MaxSobriquetsInPrompt)
	}
	if c.SobriquetMinLength < 1 || c.SobriquetMaxLength < c.SobriquetMinLength {
		return fmt.Errorf("sobriquet length bounds invalid: [%d, %d]", c.SobriquetMinLength, c.SobriquetMaxLength)
	}
	if c.AnalysisProbability < 0 || c.AnalysisProbability > 1 {
		return fmt.Errorf("SOBRIQUET_ANALYSIS_PROBABILITY must be within [0, 1], got %v", c.AnalysisProbability)
	}
	if c.ProbabilitySmoothing < 0 {
		return fmt.Errorf("SOBRIQUET_PROBABILITY_SMOOTHING must be non-negative, got %v", c.ProbabilitySmoothing)
	}
	if strings.TrimSpace(c.LLMModel) == "" {
		return fmt.Errorf("SOBRIQUET_LLM_MODEL must not be empty")
	}
	return nil
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
