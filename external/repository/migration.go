package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE session_status AS ENUM ('active', 'ended', 'abandoned'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status session_status NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions (guild_id, channel_id) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS session_participants (
		session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		speaker_id TEXT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL,
		left_at TIMESTAMPTZ,
		PRIMARY KEY (session_id, speaker_id)
	)`,
	`CREATE TABLE IF NOT EXISTS utterances (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		speaker_id TEXT NOT NULL,
		text TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ NOT NULL,
		sequence_num BIGINT NOT NULL,
		provider TEXT NOT NULL,
		audio_duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(session_id, sequence_num)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_utterances_session ON utterances (session_id, sequence_num)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
