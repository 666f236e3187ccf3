package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
)

const (
	BackendOpenAI = "openai"
	BackendAWS    = "aws"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	OpenAIAPIKey           string
	OpenAIBaseURL          string
	TranscriptionModel     string
	TranscriptionFormat    string
	TranscriptionBackend   string
	SummaryModel           string
	SummaryAPI             string
	SummaryMaxOutputTokens int

	MaxUploadMinutes int
	MaxUploadMB      int
	StagingDir       string

	AWSRegion       string
	AWSBucket       string
	AWSMaxSpeakers  int
	AWSPollInterval time.Duration

	RequestTimeout       time.Duration
	TranscriptionTimeout time.Duration
	SummaryTimeout       time.Duration

	StaticDir   string
	CORSOrigins []string
}

type envConfig struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8000"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	OpenAIAPIKey           string `env:"APP_OPENAI_API_KEY"`
	OpenAIBaseURL          string `env:"APP_OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	TranscriptionModel     string `env:"APP_OPENAI_MODEL" envDefault:"gpt-4o-transcribe-diarize"`
	TranscriptionFormat    string `env:"APP_TRANSCRIPTION_RESPONSE_FORMAT" envDefault:"diarized_json"`
	TranscriptionBackend   string `env:"APP_TRANSCRIPTION_BACKEND" envDefault:"openai"`
	SummaryModel           string `env:"APP_SUMMARY_MODEL" envDefault:"gpt-4o-mini"`
	SummaryAPI             string `env:"APP_SUMMARY_API" envDefault:"responses"`
	SummaryMaxOutputTokens int    `env:"APP_SUMMARY_MAX_OUTPUT_TOKENS" envDefault:"300"`

	MaxUploadMinutes int    `env:"APP_MAX_UPLOAD_MINUTES" envDefault:"120"`
	MaxUploadMB      int    `env:"APP_MAX_UPLOAD_MB" envDefault:"200"`
	StagingDir       string `env:"APP_STAGING_DIR"`

	AWSRegion              string `env:"APP_AWS_REGION" envDefault:"us-east-1"`
	AWSBucket              string `env:"APP_AWS_BUCKET"`
	AWSMaxSpeakers         int    `env:"APP_AWS_MAX_SPEAKERS" envDefault:"10"`
	AWSPollIntervalSeconds int    `env:"APP_AWS_POLL_INTERVAL_SECONDS" envDefault:"5"`

	RequestTimeoutSeconds       int `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"600"`
	TranscriptionTimeoutSeconds int `env:"TRANSCRIPTION_TIMEOUT_SECONDS" envDefault:"540"`
	SummaryTimeoutSeconds       int `env:"SUMMARY_TIMEOUT_SECONDS" envDefault:"60"`

	StaticDir   string   `env:"APP_STATIC_DIR" envDefault:"frontend/dist"`
	CORSOrigins []string `env:"APP_CORS_ORIGINS" envDefault:"http://localhost:5173,http://127.0.0.1:5173" envSeparator:","`
}

// Load reads the environment once. Values from the optional APP_ENV_FILE
// (default .env.local) fill in variables that are not already set.
func Load() (Config, error) {
	if err := LoadEnvFile(envFilePath()); err != nil {
		return Config{}, err
	}

	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:             strings.TrimSpace(raw.ListenAddr),
		LogLevel:               strings.ToLower(strings.TrimSpace(raw.LogLevel)),
		OpenAIAPIKey:           strings.TrimSpace(raw.OpenAIAPIKey),
		OpenAIBaseURL:          strings.TrimRight(strings.TrimSpace(raw.OpenAIBaseURL), "/"),
		TranscriptionModel:     strings.TrimSpace(raw.TranscriptionModel),
		TranscriptionFormat:    strings.TrimSpace(raw.TranscriptionFormat),
		TranscriptionBackend:   strings.ToLower(strings.TrimSpace(raw.TranscriptionBackend)),
		SummaryModel:           strings.TrimSpace(raw.SummaryModel),
		SummaryAPI:             strings.ToLower(strings.TrimSpace(raw.SummaryAPI)),
		SummaryMaxOutputTokens: raw.SummaryMaxOutputTokens,
		MaxUploadMinutes:       raw.MaxUploadMinutes,
		MaxUploadMB:            raw.MaxUploadMB,
		StagingDir:             strings.TrimSpace(raw.StagingDir),
		AWSRegion:              strings.TrimSpace(raw.AWSRegion),
		AWSBucket:              strings.TrimSpace(raw.AWSBucket),
		AWSMaxSpeakers:         raw.AWSMaxSpeakers,
		AWSPollInterval:        time.Duration(raw.AWSPollIntervalSeconds) * time.Second,
		RequestTimeout:         time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		TranscriptionTimeout:   time.Duration(raw.TranscriptionTimeoutSeconds) * time.Second,
		SummaryTimeout:         time.Duration(raw.SummaryTimeoutSeconds) * time.Second,
		StaticDir:              strings.TrimSpace(raw.StaticDir),
		CORSOrigins:            trimAll(raw.CORSOrigins),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks static settings only. A missing API key is reported per
// request so the server can still serve health checks and static assets.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.OpenAIBaseURL == "" {
		return errors.New("APP_OPENAI_BASE_URL must not be empty")
	}
	if c.TranscriptionModel == "" {
		return errors.New("APP_OPENAI_MODEL must not be empty")
	}
	if c.SummaryModel == "" {
		return errors.New("APP_SUMMARY_MODEL must not be empty")
	}
	switch c.SummaryAPI {
	case "responses", "chat_completions":
	default:
		return fmt.Errorf("APP_SUMMARY_API must be responses or chat_completions, got %q", c.SummaryAPI)
	}
	switch c.TranscriptionBackend {
	case BackendOpenAI:
	case BackendAWS:
		if c.AWSBucket == "" {
			return errors.New("APP_AWS_BUCKET is required when APP_TRANSCRIPTION_BACKEND=aws")
		}
		if c.AWSPollInterval <= 0 {
			return errors.New("APP_AWS_POLL_INTERVAL_SECONDS must be > 0")
		}
	default:
		return fmt.Errorf("APP_TRANSCRIPTION_BACKEND must be openai or aws, got %q", c.TranscriptionBackend)
	}
	if c.MaxUploadMB <= 0 {
		return errors.New("APP_MAX_UPLOAD_MB must be > 0")
	}
	if c.MaxUploadMinutes < 0 {
		return errors.New("APP_MAX_UPLOAD_MINUTES must be >= 0")
	}
	if c.SummaryMaxOutputTokens <= 0 {
		return errors.New("APP_SUMMARY_MAX_OUTPUT_TOKENS must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.TranscriptionTimeout <= 0 {
		return errors.New("TRANSCRIPTION_TIMEOUT_SECONDS must be > 0")
	}
	if c.SummaryTimeout <= 0 {
		return errors.New("SUMMARY_TIMEOUT_SECONDS must be > 0")
	}
	return nil
}

// MaxUploadBytes is the byte ceiling derived from APP_MAX_UPLOAD_MB.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
