// Package sqlite provides a single-file [store.Store] on modernc.org/sqlite,
// a pure Go SQLite driver. Chunk embeddings are stored in pgvector's text
// form and ranked in process, which is fine for per-meeting chunk counts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"
	_ "modernc.org/sqlite"

	"github.com/MrWong99/minutes/pkg/store"
)

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS meetings (
    id              TEXT     PRIMARY KEY,
    title           TEXT     NOT NULL DEFAULT '',
    language        TEXT     NOT NULL DEFAULT '',
    source          TEXT     NOT NULL DEFAULT '',
    state           TEXT     NOT NULL,
    started_at      INTEGER  NOT NULL,
    ended_at        INTEGER,
    notes           TEXT     NOT NULL DEFAULT '',
    enhanced_notes  TEXT     NOT NULL DEFAULT '',
    transcript      TEXT     NOT NULL DEFAULT '',
    audio_path      TEXT     NOT NULL DEFAULT '',
    created_at      INTEGER  NOT NULL,
    updated_at      INTEGER  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_meetings_started_at ON meetings (started_at DESC);

CREATE TABLE IF NOT EXISTS segments (
    meeting_id  TEXT     NOT NULL,
    idx         INTEGER  NOT NULL,
    start_ms    INTEGER  NOT NULL,
    end_ms      INTEGER  NOT NULL,
    text        TEXT     NOT NULL,
    confidence  REAL     NOT NULL DEFAULT 0,
    PRIMARY KEY (meeting_id, idx)
);

CREATE TABLE IF NOT EXISTS chunks (
    id          TEXT     PRIMARY KEY,
    meeting_id  TEXT     NOT NULL,
    idx         INTEGER  NOT NULL,
    content     TEXT     NOT NULL,
    embedding   TEXT
);

CREATE INDEX IF NOT EXISTS idx_chunks_meeting_id ON chunks (meeting_id);
`

// Store is the SQLite [store.Store].
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ── meetings ─────────────────────────────────────────────────────────────────

const meetingColumns = `id, title, language, source, state, started_at, ended_at,
       notes, enhanced_notes, transcript, audio_path, created_at, updated_at`

// CreateMeeting implements [store.MeetingStore].
func (s *Store) CreateMeeting(ctx context.Context, m *store.Meeting) error {
	store.Prepare(m, time.Now().UTC())
	_, err := s.db.ExecContext(ctx, `INSERT INTO meetings (`+meetingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.Language, m.Source, string(m.State), toMillis(m.StartedAt), nullMillis(m.EndedAt),
		m.Notes, m.EnhancedNotes, m.Transcript, m.AudioPath, toMillis(m.CreatedAt), toMillis(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: create meeting: %w", err)
	}
	return nil
}

// GetMeeting implements [store.MeetingStore].
func (s *Store) GetMeeting(ctx context.Context, id string) (*store.Meeting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get meeting: %w", err)
	}
	return &m, nil
}

// UpdateMeeting implements [store.MeetingStore].
func (s *Store) UpdateMeeting(ctx context.Context, m *store.Meeting) error {
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE meetings SET
		    title = ?, language = ?, source = ?, state = ?, started_at = ?, ended_at = ?,
		    notes = ?, enhanced_notes = ?, transcript = ?, audio_path = ?, updated_at = ?
		WHERE id = ?`,
		m.Title, m.Language, m.Source, string(m.State), toMillis(m.StartedAt), nullMillis(m.EndedAt),
		m.Notes, m.EnhancedNotes, m.Transcript, m.AudioPath, toMillis(m.UpdatedAt), m.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: update meeting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListMeetings implements [store.MeetingStore].
func (s *Store) ListMeetings(ctx context.Context, opts store.ListOptions) ([]store.Meeting, error) {
	var (
		conds []string
		args  []any
	)
	if opts.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, string(opts.State))
	}
	if !opts.Before.IsZero() {
		conds = append(conds, "started_at < ?")
		args = append(args, toMillis(opts.Before))
	}
	q := `SELECT ` + meetingColumns + ` FROM meetings`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list meetings: %w", err)
	}
	defer rows.Close()

	meetings := []store.Meeting{}
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// DeleteMeeting implements [store.MeetingStore].
func (s *Store) DeleteMeeting(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM meetings WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite store: delete meeting: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		for _, q := range []string{`DELETE FROM segments WHERE meeting_id = ?`, `DELETE FROM chunks WHERE meeting_id = ?`} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("sqlite store: delete meeting: %w", err)
			}
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row scanner) (store.Meeting, error) {
	var (
		m                             store.Meeting
		state                         string
		startedAt, createdAt, updated int64
		endedAt                       sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.Title, &m.Language, &m.Source, &state, &startedAt, &endedAt,
		&m.Notes, &m.EnhancedNotes, &m.Transcript, &m.AudioPath, &createdAt, &updated)
	if err != nil {
		return store.Meeting{}, err
	}
	m.State = store.MeetingState(state)
	m.StartedAt = fromMillis(startedAt)
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updated)
	if endedAt.Valid {
		m.EndedAt = fromMillis(endedAt.Int64)
	}
	return m, nil
}

// ── segments ─────────────────────────────────────────────────────────────────

// ReplaceSegments implements [store.SegmentStore].
func (s *Store) ReplaceSegments(ctx context.Context, meetingID string, segments []store.Segment) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE meeting_id = ?`, meetingID); err != nil {
			return fmt.Errorf("sqlite store: clear segments: %w", err)
		}
		for _, seg := range segments {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO segments (meeting_id, idx, start_ms, end_ms, text, confidence) VALUES (?, ?, ?, ?, ?, ?)`,
				meetingID, seg.Index, seg.Start.Milliseconds(), seg.End.Milliseconds(), seg.Text, seg.Confidence)
			if err != nil {
				return fmt.Errorf("sqlite store: insert segment %d: %w", seg.Index, err)
			}
		}
		return nil
	})
}

// Segments implements [store.SegmentStore].
func (s *Store) Segments(ctx context.Context, meetingID string) ([]store.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT meeting_id, idx, start_ms, end_ms, text, confidence
		FROM   segments
		WHERE  meeting_id = ?
		ORDER  BY idx`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: segments: %w", err)
	}
	defer rows.Close()

	segs := []store.Segment{}
	for rows.Next() {
		var (
			seg            store.Segment
			startMS, endMS int64
		)
		if err := rows.Scan(&seg.MeetingID, &seg.Index, &startMS, &endMS, &seg.Text, &seg.Confidence); err != nil {
			return nil, fmt.Errorf("sqlite store: scan segment: %w", err)
		}
		seg.Start = time.Duration(startMS) * time.Millisecond
		seg.End = time.Duration(endMS) * time.Millisecond
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// ── chunks ───────────────────────────────────────────────────────────────────

// ReplaceChunks implements [store.ChunkIndex].
func (s *Store) ReplaceChunks(ctx context.Context, meetingID string, chunks []store.Chunk) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE meeting_id = ?`, meetingID); err != nil {
			return fmt.Errorf("sqlite store: clear chunks: %w", err)
		}
		for _, c := range chunks {
			var emb any
			if len(c.Embedding) > 0 {
				emb = pgvector.NewVector(c.Embedding)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (id, meeting_id, idx, content, embedding) VALUES (?, ?, ?, ?, ?)`,
				c.ID, meetingID, c.Index, c.Content, emb)
			if err != nil {
				return fmt.Errorf("sqlite store: insert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// SearchChunks implements [store.ChunkIndex].
func (s *Store) SearchChunks(ctx context.Context, meetingID string, embedding []float32, topK int) ([]store.ChunkResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, meeting_id, idx, content, embedding FROM chunks WHERE meeting_id = ? AND embedding IS NOT NULL`,
		meetingID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: search chunks: %w", err)
	}
	defer rows.Close()

	var chunks []store.Chunk
	for rows.Next() {
		var (
			c   store.Chunk
			vec pgvector.Vector
		)
		if err := rows.Scan(&c.ID, &c.MeetingID, &c.Index, &c.Content, &vec); err != nil {
			return nil, fmt.Errorf("sqlite store: scan chunk: %w", err)
		}
		c.Embedding = vec.Slice()
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: search chunks: %w", err)
	}
	return store.RankChunks(chunks, embedding, topK), nil
}

// ChunkCount implements [store.ChunkIndex].
func (s *Store) ChunkCount(ctx context.Context, meetingID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM chunks WHERE meeting_id = ?`, meetingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite store: count chunks: %w", err)
	}
	return n, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
