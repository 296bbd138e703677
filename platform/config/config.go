// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// SchedulerConfig provides settings for the queue broker and workers.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqConcurrency() int
	GetQueueTimeouts() QueueTimeouts
	GetJobMaxRetries() int
	GetJobBackoff() []time.Duration
	GetJobRetention() time.Duration
}

// QueueTimeouts holds the per-queue execution budgets.
type QueueTimeouts struct {
	Ingestion    time.Duration
	AIProcessing time.Duration
	Escalation   time.Duration
	Scheduled    time.Duration
}

// WhatsAppConfig provides settings for the GOWA messaging gateway.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
	GetWhatsAppPacingEnabled() bool
	GetWhatsAppPacingCap() time.Duration
}

// LLMConfig provides settings for the language model.
type LLMConfig interface {
	GetMoonshotAPIKey() string
	GetMoonshotBaseURL() string
	GetMoonshotModel() string
}

// QdrantConfig provides settings for Qdrant vector database.
type QdrantConfig interface {
	GetQdrantURL() string
	GetQdrantAPIKey() string
	GetQdrantCollection() string
	IsQdrantEnabled() bool
}

// EmbeddingConfig provides settings for the embedding API service.
type EmbeddingConfig interface {
	GetEmbeddingAPIURL() string
	GetEmbeddingAPIKey() string
	IsEmbeddingEnabled() bool
}

// TranscriptionConfig provides settings for the speech-to-text service.
type TranscriptionConfig interface {
	GetTranscriptionURL() string
	GetTranscriptionAPIKey() string
	GetTranscriptionLanguage() string
	GetWhisperModelPath() string
}

// MinIOConfig provides settings for MinIO S3-compatible media storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketInboundMedia() string
	IsMinIOEnabled() bool
}

// PipelineConfig provides tuning for the conversation pipeline.
type PipelineConfig interface {
	GetContextLimit() int
	GetHandoffScoreThreshold() int
	GetUrgencyKeywords() []string
	GetReengagementWindow() time.Duration
	GetStaleConversationWindow() time.Duration
	GetPromptsFile() string
}

// SMTPConfig provides settings for operator e-mail notifications.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetSMTPFrom() string
	IsSMTPEnabled() bool
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSOrigins() []string
	GetWebhookSecret() string
}

// JWTConfig provides the secret operator access tokens are signed with.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// ScheduleConfig provides cron specs for the periodic jobs.
type ScheduleConfig interface {
	GetReengagementSchedule() string
	GetCleanupSchedule() string
	GetOutboxSchedule() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env              string
	HTTPAddr         string
	CORSOrigins      []string
	WebhookSecret    string
	JWTAccessSecret  string
	DatabaseURL      string
	RedisURL         string
	RedisTLSInsecure bool
	AsynqConcurrency int
	Timeouts         QueueTimeouts
	JobMaxRetries    int
	JobBackoff       []time.Duration
	JobRetention     time.Duration

	WhatsAppURL           string
	WhatsAppKey           string
	WhatsAppDeviceID      string
	WhatsAppPacingEnabled bool
	WhatsAppPacingCap     time.Duration

	MoonshotAPIKey  string
	MoonshotBaseURL string
	MoonshotModel   string

	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	EmbeddingAPIURL  string
	EmbeddingAPIKey  string

	TranscriptionURL      string
	TranscriptionAPIKey   string
	TranscriptionLanguage string
	WhisperModelPath      string

	MinIOEndpoint           string
	MinIOAccessKey          string
	MinIOSecretKey          string
	MinIOUseSSL             bool
	MinIOMaxFileSize        int64
	MinioBucketInboundMedia string

	ContextLimit            int
	HandoffScoreThreshold   int
	UrgencyKeywords         []string
	ReengagementWindow      time.Duration
	StaleConversationWindow time.Duration
	PromptsFile             string

	ReengagementSchedule string
	CleanupSchedule      string
	OutboxSchedule       string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string             { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool       { return c.RedisTLSInsecure }
func (c *Config) GetAsynqConcurrency() int        { return c.AsynqConcurrency }
func (c *Config) GetQueueTimeouts() QueueTimeouts { return c.Timeouts }
func (c *Config) GetJobMaxRetries() int           { return c.JobMaxRetries }
func (c *Config) GetJobBackoff() []time.Duration  { return c.JobBackoff }
func (c *Config) GetJobRetention() time.Duration  { return c.JobRetention }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string              { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string              { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string         { return c.WhatsAppDeviceID }
func (c *Config) GetWhatsAppPacingEnabled() bool      { return c.WhatsAppPacingEnabled }
func (c *Config) GetWhatsAppPacingCap() time.Duration { return c.WhatsAppPacingCap }

// LLMConfig implementation
func (c *Config) GetMoonshotAPIKey() string  { return c.MoonshotAPIKey }
func (c *Config) GetMoonshotBaseURL() string { return c.MoonshotBaseURL }
func (c *Config) GetMoonshotModel() string   { return c.MoonshotModel }

// QdrantConfig implementation
func (c *Config) GetQdrantURL() string        { return c.QdrantURL }
func (c *Config) GetQdrantAPIKey() string     { return c.QdrantAPIKey }
func (c *Config) GetQdrantCollection() string { return c.QdrantCollection }
func (c *Config) IsQdrantEnabled() bool {
	return c.QdrantURL != "" && c.QdrantCollection != ""
}

// EmbeddingConfig implementation
func (c *Config) GetEmbeddingAPIURL() string { return c.EmbeddingAPIURL }
func (c *Config) GetEmbeddingAPIKey() string { return c.EmbeddingAPIKey }
func (c *Config) IsEmbeddingEnabled() bool   { return c.EmbeddingAPIURL != "" }

// TranscriptionConfig implementation
func (c *Config) GetTranscriptionURL() string      { return c.TranscriptionURL }
func (c *Config) GetTranscriptionAPIKey() string   { return c.TranscriptionAPIKey }
func (c *Config) GetTranscriptionLanguage() string { return c.TranscriptionLanguage }
func (c *Config) GetWhisperModelPath() string      { return c.WhisperModelPath }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string           { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string          { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string          { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool               { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64         { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketInboundMedia() string { return c.MinioBucketInboundMedia }
func (c *Config) IsMinIOEnabled() bool               { return c.MinIOEndpoint != "" }

// PipelineConfig implementation
func (c *Config) GetContextLimit() int                      { return c.ContextLimit }
func (c *Config) GetHandoffScoreThreshold() int             { return c.HandoffScoreThreshold }
func (c *Config) GetUrgencyKeywords() []string              { return c.UrgencyKeywords }
func (c *Config) GetReengagementWindow() time.Duration      { return c.ReengagementWindow }
func (c *Config) GetStaleConversationWindow() time.Duration { return c.StaleConversationWindow }
func (c *Config) GetPromptsFile() string                    { return c.PromptsFile }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string     { return c.SMTPHost }
func (c *Config) GetSMTPPort() int        { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string { return c.SMTPPassword }
func (c *Config) GetSMTPFrom() string     { return c.SMTPFrom }
func (c *Config) IsSMTPEnabled() bool     { return c.SMTPHost != "" && c.SMTPFrom != "" }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetWebhookSecret() string { return c.WebhookSecret }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// ScheduleConfig implementation
func (c *Config) GetReengagementSchedule() string { return c.ReengagementSchedule }
func (c *Config) GetCleanupSchedule() string      { return c.CleanupSchedule }
func (c *Config) GetOutboxSchedule() string       { return c.OutboxSchedule }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := load()
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return validateBroker(cfg)
}

// LoadBroker reads configuration for tools that only talk to the queue broker.
func LoadBroker() (*Config, error) {
	return validateBroker(load())
}

func validateBroker(cfg *Config) (*Config, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.JobMaxRetries < 1 {
		return nil, fmt.Errorf("JOB_MAX_RETRIES must be at least 1")
	}
	if len(cfg.JobBackoff) == 0 {
		return nil, fmt.Errorf("JOB_BACKOFF must contain at least one duration")
	}
	return cfg, nil
}

func load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		CORSOrigins:      splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200")),
		WebhookSecret:    getEnv("WEBHOOK_SECRET", ""),
		JWTAccessSecret:  getEnv("OPERATOR_JWT_SECRET", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		Timeouts: QueueTimeouts{
			Ingestion:    mustDuration(getEnv("QUEUE_TIMEOUT_INGESTION", "10s")),
			AIProcessing: mustDuration(getEnv("QUEUE_TIMEOUT_AI_PROCESSING", "60s")),
			Escalation:   mustDuration(getEnv("QUEUE_TIMEOUT_ESCALATION", "30s")),
			Scheduled:    mustDuration(getEnv("QUEUE_TIMEOUT_SCHEDULED", "60s")),
		},
		JobMaxRetries: mustInt(getEnv("JOB_MAX_RETRIES", "3")),
		JobBackoff:    parseDurations(getEnv("JOB_BACKOFF", "1s,2s,4s")),
		JobRetention:  mustDuration(getEnv("JOB_RETENTION", "24h")),

		WhatsAppURL:           getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:           getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:      getEnv("WHATSAPP_DEVICE_ID", ""),
		WhatsAppPacingEnabled: strings.EqualFold(getEnv("WHATSAPP_PACING", "true"), "true"),
		WhatsAppPacingCap:     mustDuration(getEnv("WHATSAPP_PACING_CAP", "2m")),

		MoonshotAPIKey:  getEnv("MOONSHOT_API_KEY", ""),
		MoonshotBaseURL: getEnv("MOONSHOT_BASE_URL", ""),
		MoonshotModel:   getEnv("MOONSHOT_MODEL", ""),

		QdrantURL:        getEnv("QDRANT_URL", ""),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "conversation_memory"),
		EmbeddingAPIURL:  getEnv("EMBEDDING_API_URL", ""),
		EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", ""),

		TranscriptionURL:      getEnv("TRANSCRIPTION_URL", ""),
		TranscriptionAPIKey:   getEnv("TRANSCRIPTION_API_KEY", ""),
		TranscriptionLanguage: getEnv("TRANSCRIPTION_LANGUAGE", "nl"),
		WhisperModelPath:      getEnv("WHISPER_MODEL_PATH", ""),

		MinIOEndpoint:           getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:          getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:          getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:             strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:        mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "26214400")),
		MinioBucketInboundMedia: getEnv("MINIO_BUCKET_INBOUND_MEDIA", "inbound-media"),

		ContextLimit:            mustInt(getEnv("PIPELINE_CONTEXT_LIMIT", "5")),
		HandoffScoreThreshold:   mustInt(getEnv("HANDOFF_SCORE_THRESHOLD", "80")),
		UrgencyKeywords:         splitCSV(getEnv("URGENCY_KEYWORDS", "")),
		ReengagementWindow:      mustDuration(getEnv("REENGAGEMENT_WINDOW", "24h")),
		StaleConversationWindow: mustDuration(getEnv("STALE_CONVERSATION_WINDOW", "336h")),
		PromptsFile:             getEnv("PROMPTS_FILE", ""),

		ReengagementSchedule: getEnv("SCHEDULE_REENGAGEMENT", "@every 1h"),
		CleanupSchedule:      getEnv("SCHEDULE_CLEANUP", "@daily"),
		OutboxSchedule:       getEnv("SCHEDULE_NOTIFICATION_OUTBOX", "@every 30s"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func parseDurations(value string) []time.Duration {
	parts := splitCSV(value)
	results := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		if d := mustDuration(part); d > 0 {
			results = append(results, d)
		}
	}
	return results
}
