package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/ottergrove/voicegrain/internal/config"
)

type envConfig struct {
	Env                        string        `env:"ENV" envDefault:"production"`
	DatabaseURL                string        `env:"DATABASE_URL,required"`
	DiscordToken               string        `env:"DISCORD_TOKEN,required"`
	DiscordGuildID             string        `env:"DISCORD_GUILD_ID,required"`
	DiscordVCID                string        `env:"DISCORD_VC_ID,required"`
	SampleRate                 int           `env:"AUDIO_SAMPLE_RATE" envDefault:"48000"`
	ChunkDuration              time.Duration `env:"AUDIO_CHUNK_DURATION" envDefault:"5s"`
	SilenceThreshold           time.Duration `env:"AUDIO_SILENCE_THRESHOLD" envDefault:"2s"`
	MinUtteranceDuration       time.Duration `env:"AUDIO_MIN_DURATION" envDefault:"500ms"`
	FlushTick                  time.Duration `env:"FLUSH_TICK_INTERVAL" envDefault:"250ms"`
	VoiceActivityRMS           float64       `env:"AUDIO_VAD_RMS_THRESHOLD" envDefault:"0.01"`
	SessionTimeout             time.Duration `env:"SESSION_TIMEOUT" envDefault:"5m"`
	TranscribeProvider         string        `env:"TRANSCRIBE_PROVIDER" envDefault:"google"`
	DefaultTranscribeLanguage  string        `env:"DEFAULT_TRANSCRIBE_LANGUAGE,required"`
	GoogleCloudProjectID       string        `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string        `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string        `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string        `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`
	DeepgramAPIKey             string        `env:"DEEPGRAM_API_KEY"`
	DeepgramModel              string        `env:"DEEPGRAM_MODEL" envDefault:"nova-3"`
	TranscriptTimezone         string        `env:"TRANSCRIPT_TIMEZONE" envDefault:"UTC"`
	TranscriptWebhookURL       string        `env:"TRANSCRIPT_WEBHOOK_URL"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		DatabaseURL:                raw.DatabaseURL,
		DiscordToken:               raw.DiscordToken,
		DiscordGuildID:             raw.DiscordGuildID,
		DiscordVCID:                raw.DiscordVCID,
		SampleRate:                 raw.SampleRate,
		ChunkDuration:              raw.ChunkDuration,
		SilenceThreshold:           raw.SilenceThreshold,
		MinUtteranceDuration:       raw.MinUtteranceDuration,
		FlushTick:                  raw.FlushTick,
		VoiceActivityRMS:           raw.VoiceActivityRMS,
		SessionTimeout:             raw.SessionTimeout,
		TranscribeProvider:         raw.TranscribeProvider,
		DefaultTranscribeLanguage:  raw.DefaultTranscribeLanguage,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		DeepgramAPIKey:             raw.DeepgramAPIKey,
		DeepgramModel:              raw.DeepgramModel,
		TranscriptTimezone:         raw.TranscriptTimezone,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
