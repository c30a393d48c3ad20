package repository

import "time"

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusEnded     SessionStatus = "ended"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

type Session struct {
	ID        string
	GuildID   string
	ChannelID string
	StartedAt time.Time
	EndedAt   *time.Time
	Status    SessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Participant struct {
	SessionID string
	SpeakerID string
	JoinedAt  time.Time
	LeftAt    *time.Time
}

type Utterance struct {
	ID            string
	SessionID     string
	SpeakerID     string
	Text          string
	Confidence    float64
	StartedAt     time.Time
	EndedAt       time.Time
	SequenceNum   int64
	Provider      string
	AudioDuration time.Duration
	CreatedAt     time.Time
}
