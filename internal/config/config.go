package config

import (
	"fmt"
	"time"
)

// Config is the full per-deployment configuration surface. Every option is
// fixed at startup; nothing here varies per call.
type Config struct {
	Env        string
	ListenAddr string
	LogLevel   string
	SentryDSN  string

	// Transcription session options, fixed for the lifetime of every call.
	TranscribeProvider      string
	TranscribeLanguage      string
	ContentRedactionEnabled bool
	ContentRedactionType    string
	PIIEntityTypes          []string
	CustomVocabularyName    string

	// Per-call pipeline tuning.
	AudioBufferFrames int
	ProcessingTimeout time.Duration
	LegSkewMax        time.Duration
	StitchWindow      time.Duration
	StitchMaxWait     time.Duration
	DrainTimeout      time.Duration

	// Durable event records.
	EventStore     string
	EventTableName string
	DatabaseURL    string
	EventBusName   string
	RecordTTLDays  int

	// Audio artifacts.
	ArtifactBucket    string
	MergedAudioPrefix string
	LegAudioPrefix    string
	MonoArtifact      bool

	DefaultCallerNumber string

	FilterHookURL     string
	FilterHookTimeout time.Duration

	AWSRegion string

	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
}

const (
	ProviderAWS    = "aws"
	ProviderGoogle = "google"

	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
)

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.TranscribeProvider {
	case ProviderAWS:
	case ProviderGoogle:
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when TRANSCRIBE_PROVIDER=google")
		}
	default:
		return fmt.Errorf("TRANSCRIBE_PROVIDER must be %q or %q, got %q", ProviderAWS, ProviderGoogle, c.TranscribeProvider)
	}
	switch c.EventStore {
	case StoreDynamoDB:
		if c.EventTableName == "" {
			return fmt.Errorf("EVENT_TABLE_NAME is required when EVENT_STORE=dynamodb")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when EVENT_STORE=postgres")
		}
	default:
		return fmt.Errorf("EVENT_STORE must be %q or %q, got %q", StoreDynamoDB, StorePostgres, c.EventStore)
	}
	if c.ContentRedactionEnabled && c.ContentRedactionType == "" {
		return fmt.Errorf("CONTENT_REDACTION_TYPE is required when CONTENT_REDACTION_ENABLED=true")
	}
	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be positive, got %s", c.ProcessingTimeout)
	}
	if c.StitchWindow <= 0 || c.StitchMaxWait <= 0 {
		return fmt.Errorf("STITCH_WINDOW_MS and STITCH_MAX_WAIT_MS must be positive")
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("DRAIN_TIMEOUT must be positive, got %s", c.DrainTimeout)
	}
	if c.AudioBufferFrames <= 0 {
		return fmt.Errorf("AUDIO_BUFFER_FRAMES must be positive, got %d", c.AudioBufferFrames)
	}
	if c.RecordTTLDays <= 0 {
		return fmt.Errorf("RECORD_TTL_DAYS must be positive, got %d", c.RecordTTLDays)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "TRANSCRIBE_LANGUAGE_CODE", value: c.TranscribeLanguage},
		{name: "EVENT_BUS_NAME", value: c.EventBusName},
		{name: "ARTIFACT_BUCKET", value: c.ArtifactBucket},
		{name: "MERGED_AUDIO_PREFIX", value: c.MergedAudioPrefix},
		{name: "LEG_AUDIO_PREFIX", value: c.LegAudioPrefix},
	}
}

// RecordTTL converts the configured purge horizon to a duration.
func (c *Config) RecordTTL() time.Duration {
	return time.Duration(c.RecordTTLDays) * 24 * time.Hour
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
