package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ottergrove/voicegrain/internal/repository"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, guild_id, channel_id, started_at, status)
		 VALUES ($1, $2, $3, $4, 'active')`,
		input.SessionID, input.GuildID, input.ChannelID, input.StartedAt)
	return err
}

func (r *PostgresRepository) EndSession(ctx context.Context, input repository.EndSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = $2, ended_at = $3, updated_at = NOW() WHERE id = $1`,
		input.SessionID, input.Status, input.EndedAt)
	return err
}

func (r *PostgresRepository) GetActiveSessionByChannel(ctx context.Context, guildID, channelID string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, guild_id, channel_id, started_at, ended_at, status, created_at, updated_at
		 FROM sessions WHERE guild_id = $1 AND channel_id = $2 AND status = 'active'
		 LIMIT 1`,
		guildID, channelID)
	var s repository.Session
	var endedAt *time.Time
	err := row.Scan(&s.ID, &s.GuildID, &s.ChannelID, &s.StartedAt, &endedAt, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s.EndedAt = endedAt
	return &s, nil
}

func (r *PostgresRepository) AddParticipant(ctx context.Context, input repository.AddParticipantInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_participants (session_id, speaker_id, joined_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, speaker_id) DO UPDATE SET left_at = NULL`,
		input.SessionID, input.SpeakerID, input.JoinedAt)
	return err
}

func (r *PostgresRepository) MarkParticipantLeft(ctx context.Context, input repository.MarkParticipantLeftInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE session_participants SET left_at = $3 WHERE session_id = $1 AND speaker_id = $2`,
		input.SessionID, input.SpeakerID, input.LeftAt)
	return err
}

func (r *PostgresRepository) InsertUtterance(ctx context.Context, input repository.InsertUtteranceInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO utterances (session_id, speaker_id, text, confidence, started_at, ended_at, sequence_num, provider, audio_duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		input.SessionID, input.SpeakerID, input.Text, input.Confidence,
		input.StartedAt, input.EndedAt, input.SequenceNum, input.Provider,
		input.AudioDuration.Milliseconds())
	return err
}

func (r *PostgresRepository) ListUtterancesBySessionID(ctx context.Context, sessionID string) ([]repository.Utterance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, speaker_id, text, confidence, started_at, ended_at, sequence_num, provider, audio_duration_ms, created_at
		 FROM utterances WHERE session_id = $1 ORDER BY sequence_num ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Utterance
	for rows.Next() {
		var u repository.Utterance
		var durationMS int64
		if err := rows.Scan(&u.ID, &u.SessionID, &u.SpeakerID, &u.Text, &u.Confidence, &u.StartedAt, &u.EndedAt, &u.SequenceNum, &u.Provider, &durationMS, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.AudioDuration = time.Duration(durationMS) * time.Millisecond
		list = append(list, u)
	}
	return list, rows.Err()
}
