package webhook

import (
	"context"
	"time"
)

type TranscriptLine struct {
	SpeakerID   string    `json:"speaker_id"`
	SpeakerName string    `json:"speaker_name"`
	Text        string    `json:"text"`
	SpokenAt    time.Time `json:"spoken_at"`
	Confidence  float64   `json:"confidence"`
	Provider    string    `json:"provider"`
}

type TranscriptSpeaker struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsBot       bool   `json:"is_bot"`
}

type TranscriptPayload struct {
	SessionID   string              `json:"session_id"`
	Status      string              `json:"status"`
	GuildName   string              `json:"guild_name"`
	ChannelName string              `json:"channel_name"`
	StartedAt   time.Time           `json:"started_at"`
	EndedAt     time.Time           `json:"ended_at"`
	Timezone    string              `json:"timezone"`
	Speakers    []TranscriptSpeaker `json:"speakers"`
	Lines       []TranscriptLine    `json:"lines"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptPayload) error
}
