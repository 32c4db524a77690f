package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/minutes/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL [store.Store]. All operations share one
// [pgxpool.Pool] and are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, registers pgvector types on every connection
// and runs [Migrate].
//
// embeddingDimensions must match the embedding model that produces
// [store.Chunk.Embedding] (e.g. 1536 for text-embedding-3-small).
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ── meetings ─────────────────────────────────────────────────────────────────

const meetingColumns = `id, title, language, source, state, started_at, ended_at,
       notes, enhanced_notes, transcript, audio_path, created_at, updated_at`

// CreateMeeting implements [store.MeetingStore].
func (s *Store) CreateMeeting(ctx context.Context, m *store.Meeting) error {
	store.Prepare(m, time.Now().UTC())
	const q = `
		INSERT INTO meetings (` + meetingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, q,
		m.ID, m.Title, m.Language, m.Source, string(m.State), m.StartedAt, nullTime(m.EndedAt),
		m.Notes, m.EnhancedNotes, m.Transcript, m.AudioPath, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: create meeting: %w", err)
	}
	return nil
}

// GetMeeting implements [store.MeetingStore].
func (s *Store) GetMeeting(ctx context.Context, id string) (*store.Meeting, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get meeting: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMeeting)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get meeting: %w", err)
	}
	return &m, nil
}

// UpdateMeeting implements [store.MeetingStore].
func (s *Store) UpdateMeeting(ctx context.Context, m *store.Meeting) error {
	m.UpdatedAt = time.Now().UTC()
	const q = `
		UPDATE meetings SET
		    title = $2, language = $3, source = $4, state = $5, started_at = $6, ended_at = $7,
		    notes = $8, enhanced_notes = $9, transcript = $10, audio_path = $11, updated_at = $12
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		m.ID, m.Title, m.Language, m.Source, string(m.State), m.StartedAt, nullTime(m.EndedAt),
		m.Notes, m.EnhancedNotes, m.Transcript, m.AudioPath, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: update meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListMeetings implements [store.MeetingStore].
func (s *Store) ListMeetings(ctx context.Context, opts store.ListOptions) ([]store.Meeting, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	q := `SELECT ` + meetingColumns + ` FROM meetings WHERE true`
	if opts.State != "" {
		q += " AND state = " + next(string(opts.State))
	}
	if !opts.Before.IsZero() {
		q += " AND started_at < " + next(opts.Before)
	}
	q += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		q += " LIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list meetings: %w", err)
	}
	meetings, err := pgx.CollectRows(rows, scanMeeting)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan meetings: %w", err)
	}
	if meetings == nil {
		meetings = []store.Meeting{}
	}
	return meetings, nil
}

// DeleteMeeting implements [store.MeetingStore]. Segments and chunks go
// with it through ON DELETE CASCADE.
func (s *Store) DeleteMeeting(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanMeeting(row pgx.CollectableRow) (store.Meeting, error) {
	var (
		m       store.Meeting
		state   string
		endedAt *time.Time
	)
	err := row.Scan(&m.ID, &m.Title, &m.Language, &m.Source, &state, &m.StartedAt, &endedAt,
		&m.Notes, &m.EnhancedNotes, &m.Transcript, &m.AudioPath, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return store.Meeting{}, err
	}
	m.State = store.MeetingState(state)
	if endedAt != nil {
		m.EndedAt = *endedAt
	}
	return m, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ── segments ─────────────────────────────────────────────────────────────────

// ReplaceSegments implements [store.SegmentStore].
func (s *Store) ReplaceSegments(ctx context.Context, meetingID string, segments []store.Segment) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM segments WHERE meeting_id = $1`, meetingID); err != nil {
			return fmt.Errorf("postgres store: clear segments: %w", err)
		}
		if len(segments) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"segments"},
			[]string{"meeting_id", "idx", "start_ms", "end_ms", "text", "confidence"},
			pgx.CopyFromSlice(len(segments), func(i int) ([]any, error) {
				seg := segments[i]
				return []any{meetingID, seg.Index, seg.Start.Milliseconds(), seg.End.Milliseconds(), seg.Text, seg.Confidence}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("postgres store: copy segments: %w", err)
		}
		return nil
	})
}

// Segments implements [store.SegmentStore].
func (s *Store) Segments(ctx context.Context, meetingID string) ([]store.Segment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT meeting_id, idx, start_ms, end_ms, text, confidence
		FROM   segments
		WHERE  meeting_id = $1
		ORDER  BY idx`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: segments: %w", err)
	}
	segs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Segment, error) {
		var (
			seg            store.Segment
			startMS, endMS int64
		)
		if err := row.Scan(&seg.MeetingID, &seg.Index, &startMS, &endMS, &seg.Text, &seg.Confidence); err != nil {
			return store.Segment{}, err
		}
		seg.Start = time.Duration(startMS) * time.Millisecond
		seg.End = time.Duration(endMS) * time.Millisecond
		return seg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan segments: %w", err)
	}
	if segs == nil {
		segs = []store.Segment{}
	}
	return segs, nil
}

// ── chunks ───────────────────────────────────────────────────────────────────

// ReplaceChunks implements [store.ChunkIndex].
func (s *Store) ReplaceChunks(ctx context.Context, meetingID string, chunks []store.Chunk) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE meeting_id = $1`, meetingID); err != nil {
			return fmt.Errorf("postgres store: clear chunks: %w", err)
		}
		batch := &pgx.Batch{}
		for _, c := range chunks {
			batch.Queue(`INSERT INTO chunks (id, meeting_id, idx, content, embedding) VALUES ($1, $2, $3, $4, $5)`,
				c.ID, meetingID, c.Index, c.Content, pgvector.NewVector(c.Embedding))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres store: insert chunks: %w", err)
		}
		return nil
	})
}

// SearchChunks implements [store.ChunkIndex]. Results are ordered by
// ascending cosine distance.
func (s *Store) SearchChunks(ctx context.Context, meetingID string, embedding []float32, topK int) ([]store.ChunkResult, error) {
	const q = `
		SELECT id, meeting_id, idx, content, embedding, embedding <=> $2 AS distance
		FROM   chunks
		WHERE  meeting_id = $1
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, meetingID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search chunks: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ChunkResult, error) {
		var (
			cr  store.ChunkResult
			vec pgvector.Vector
		)
		if err := row.Scan(&cr.Chunk.ID, &cr.Chunk.MeetingID, &cr.Chunk.Index, &cr.Chunk.Content, &vec, &cr.Distance); err != nil {
			return store.ChunkResult{}, err
		}
		cr.Chunk.Embedding = vec.Slice()
		return cr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan chunks: %w", err)
	}
	if results == nil {
		results = []store.ChunkResult{}
	}
	return results, nil
}

// ChunkCount implements [store.ChunkIndex].
func (s *Store) ChunkCount(ctx context.Context, meetingID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE meeting_id = $1`, meetingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count chunks: %w", err)
	}
	return n, nil
}
