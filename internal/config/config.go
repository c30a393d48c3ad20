package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env string

	DatabaseURL string

	DiscordToken   string
	DiscordGuildID string
	DiscordVCID    string

	SampleRate           int
	ChunkDuration        time.Duration
	SilenceThreshold     time.Duration
	MinUtteranceDuration time.Duration
	FlushTick            time.Duration
	VoiceActivityRMS     float64

	SessionTimeout time.Duration

	TranscribeProvider        string
	DefaultTranscribeLanguage string

	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string

	DeepgramAPIKey string
	DeepgramModel  string

	TranscriptTimezone   string
	TranscriptWebhookURL string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("AUDIO_CHUNK_DURATION must be positive, got %s", c.ChunkDuration)
	}
	if c.SilenceThreshold <= 0 {
		return fmt.Errorf("AUDIO_SILENCE_THRESHOLD must be positive, got %s", c.SilenceThreshold)
	}
	if c.MinUtteranceDuration <= 0 || c.MinUtteranceDuration >= c.ChunkDuration {
		return fmt.Errorf("AUDIO_MIN_DURATION must be positive and below AUDIO_CHUNK_DURATION, got %s", c.MinUtteranceDuration)
	}
	if c.FlushTick <= 0 {
		return fmt.Errorf("FLUSH_TICK_INTERVAL must be positive, got %s", c.FlushTick)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive, got %s", c.SessionTimeout)
	}
	if c.VoiceActivityRMS < 0 {
		return fmt.Errorf("AUDIO_VAD_RMS_THRESHOLD must not be negative, got %f", c.VoiceActivityRMS)
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateProvider() error {
	switch c.TranscribeProvider {
	case "google":
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when TRANSCRIBE_PROVIDER=google")
		}
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when TRANSCRIBE_PROVIDER=deepgram")
		}
	default:
		return fmt.Errorf("TRANSCRIBE_PROVIDER must be google or deepgram, got %q", c.TranscribeProvider)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "DISCORD_GUILD_ID", value: c.DiscordGuildID},
		{name: "DISCORD_VC_ID", value: c.DiscordVCID},
		{name: "DEFAULT_TRANSCRIBE_LANGUAGE", value: c.DefaultTranscribeLanguage},
		{name: "TRANSCRIPT_TIMEZONE", value: c.TranscriptTimezone},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
