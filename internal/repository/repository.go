package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	SessionID string
	GuildID   string
	ChannelID string
	StartedAt time.Time
}

type EndSessionInput struct {
	SessionID string
	EndedAt   time.Time
	Status    SessionStatus
}

type AddParticipantInput struct {
	SessionID string
	SpeakerID string
	JoinedAt  time.Time
}

type MarkParticipantLeftInput struct {
	SessionID string
	SpeakerID string
	LeftAt    time.Time
}

type InsertUtteranceInput struct {
	SessionID     string
	SpeakerID     string
	Text          string
	Confidence    float64
	StartedAt     time.Time
	EndedAt       time.Time
	SequenceNum   int64
	Provider      string
	AudioDuration time.Duration
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) error
	EndSession(ctx context.Context, input EndSessionInput) error
	GetActiveSessionByChannel(ctx context.Context, guildID, channelID string) (*Session, error)
	AddParticipant(ctx context.Context, input AddParticipantInput) error
	MarkParticipantLeft(ctx context.Context, input MarkParticipantLeftInput) error
}

type UtteranceRepository interface {
	InsertUtterance(ctx context.Context, input InsertUtteranceInput) error
	ListUtterancesBySessionID(ctx context.Context, sessionID string) ([]Utterance, error)
}

type Repository interface {
	SessionRepository
	UtteranceRepository
}
