// Package postgres provides a PostgreSQL-backed [store.Store]. Transcript
// chunk embeddings live in a pgvector column with an HNSW index so that
// [Store.SearchChunks] runs as a nearest-neighbour query in the database.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer s.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMeetings = `
CREATE TABLE IF NOT EXISTS meetings (
    id              TEXT         PRIMARY KEY,
    title           TEXT         NOT NULL DEFAULT '',
    language        TEXT         NOT NULL DEFAULT '',
    source          TEXT         NOT NULL DEFAULT '',
    state           TEXT         NOT NULL,
    started_at      TIMESTAMPTZ  NOT NULL,
    ended_at        TIMESTAMPTZ,
    notes           TEXT         NOT NULL DEFAULT '',
    enhanced_notes  TEXT         NOT NULL DEFAULT '',
    transcript      TEXT         NOT NULL DEFAULT '',
    audio_path      TEXT         NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_meetings_started_at ON meetings (started_at DESC);
CREATE INDEX IF NOT EXISTS idx_meetings_state ON meetings (state);

CREATE TABLE IF NOT EXISTS segments (
    meeting_id  TEXT              NOT NULL REFERENCES meetings (id) ON DELETE CASCADE,
    idx         INTEGER           NOT NULL,
    start_ms    BIGINT            NOT NULL,
    end_ms      BIGINT            NOT NULL,
    text        TEXT              NOT NULL,
    confidence  DOUBLE PRECISION  NOT NULL DEFAULT 0,
    PRIMARY KEY (meeting_id, idx)
);
`

// ddlChunks returns the chunk DDL with the embedding dimension baked into
// the vector column type.
func ddlChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
    id          TEXT     PRIMARY KEY,
    meeting_id  TEXT     NOT NULL REFERENCES meetings (id) ON DELETE CASCADE,
    idx         INTEGER  NOT NULL,
    content     TEXT     NOT NULL,
    embedding   vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_chunks_meeting_id
    ON chunks (meeting_id);

CREATE INDEX IF NOT EXISTS idx_chunks_embedding
    ON chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates all tables, indexes and the vector extension. It is
// idempotent and runs on every [NewStore].
//
// Changing embeddingDimensions after the first migration requires a manual
// schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	for _, stmt := range []string{ddlMeetings, ddlChunks(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
