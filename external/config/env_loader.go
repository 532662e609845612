package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/calldeck/callscribe/internal/config"
)

type envConfig struct {
	Env        string `env:"ENV" envDefault:"production"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	SentryDSN  string `env:"SENTRY_DSN"`

	TranscribeProvider      string   `env:"TRANSCRIBE_PROVIDER" envDefault:"aws"`
	TranscribeLanguage      string   `env:"TRANSCRIBE_LANGUAGE_CODE,required"`
	ContentRedactionEnabled bool     `env:"CONTENT_REDACTION_ENABLED" envDefault:"false"`
	ContentRedactionType    string   `env:"CONTENT_REDACTION_TYPE"`
	PIIEntityTypes          []string `env:"PII_ENTITY_TYPES" envSeparator:","`
	CustomVocabularyName    string   `env:"CUSTOM_VOCABULARY_NAME"`

	AudioBufferFrames int           `env:"AUDIO_BUFFER_FRAMES" envDefault:"50"`
	ProcessingTimeout time.Duration `env:"PROCESSING_TIMEOUT" envDefault:"2h"`
	LegSkewMax        time.Duration `env:"LEG_SKEW_MAX" envDefault:"5s"`
	StitchWindowMS    int           `env:"STITCH_WINDOW_MS" envDefault:"100"`
	StitchMaxWaitMS   int           `env:"STITCH_MAX_WAIT_MS" envDefault:"1000"`
	DrainTimeout      time.Duration `env:"DRAIN_TIMEOUT" envDefault:"10s"`

	EventStore     string `env:"EVENT_STORE" envDefault:"dynamodb"`
	EventTableName string `env:"EVENT_TABLE_NAME"`
	DatabaseURL    string `env:"DATABASE_URL"`
	EventBusName   string `env:"EVENT_BUS_NAME,required"`
	RecordTTLDays  int    `env:"RECORD_TTL_DAYS" envDefault:"90"`

	ArtifactBucket    string `env:"ARTIFACT_BUCKET,required"`
	MergedAudioPrefix string `env:"MERGED_AUDIO_PREFIX" envDefault:"recordings/merged"`
	LegAudioPrefix    string `env:"LEG_AUDIO_PREFIX" envDefault:"recordings/legs"`
	MonoArtifact      bool   `env:"MONO_ARTIFACT" envDefault:"false"`

	DefaultCallerNumber string `env:"DEFAULT_CALLER_NUMBER" envDefault:"+18005550000"`

	FilterHookURL     string        `env:"FILTER_HOOK_URL"`
	FilterHookTimeout time.Duration `env:"FILTER_HOOK_TIMEOUT" envDefault:"3s"`

	AWSRegion string `env:"AWS_REGION" envDefault:"us-east-1"`

	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"telephony"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		ListenAddr:                 raw.ListenAddr,
		LogLevel:                   raw.LogLevel,
		SentryDSN:                  raw.SentryDSN,
		TranscribeProvider:         raw.TranscribeProvider,
		TranscribeLanguage:         raw.TranscribeLanguage,
		ContentRedactionEnabled:    raw.ContentRedactionEnabled,
		ContentRedactionType:       raw.ContentRedactionType,
		PIIEntityTypes:             raw.PIIEntityTypes,
		CustomVocabularyName:       raw.CustomVocabularyName,
		AudioBufferFrames:          raw.AudioBufferFrames,
		ProcessingTimeout:          raw.ProcessingTimeout,
		LegSkewMax:                 raw.LegSkewMax,
		StitchWindow:               time.Duration(raw.StitchWindowMS) * time.Millisecond,
		StitchMaxWait:              time.Duration(raw.StitchMaxWaitMS) * time.Millisecond,
		DrainTimeout:               raw.DrainTimeout,
		EventStore:                 raw.EventStore,
		EventTableName:             raw.EventTableName,
		DatabaseURL:                raw.DatabaseURL,
		EventBusName:               raw.EventBusName,
		RecordTTLDays:              raw.RecordTTLDays,
		ArtifactBucket:             raw.ArtifactBucket,
		MergedAudioPrefix:          raw.MergedAudioPrefix,
		LegAudioPrefix:             raw.LegAudioPrefix,
		MonoArtifact:               raw.MonoArtifact,
		DefaultCallerNumber:        raw.DefaultCallerNumber,
		FilterHookURL:              raw.FilterHookURL,
		FilterHookTimeout:          raw.FilterHookTimeout,
		AWSRegion:                  raw.AWSRegion,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
