// Package store defines persistence for meetings: the meeting record itself,
// the timed transcript segments produced by batch transcription, and the
// embedded transcript chunks used for semantic retrieval during chat.
//
// Backends live in sub-packages: [postgres] (pgx + pgvector), [sqlite]
// (modernc.org/sqlite, pure Go) and [memstore] (in-process, used by tests and
// the "memory" storage driver).
//
// Every implementation must be safe for concurrent use.
package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/minutes/pkg/provider/embeddings"
)

// ErrNotFound is returned when a meeting does not exist.
var ErrNotFound = errors.New("store: not found")

// MeetingState is the lifecycle position of a meeting record.
type MeetingState string

const (
	// MeetingRecording means audio is being captured right now.
	MeetingRecording MeetingState = "recording"

	// MeetingProcessing means capture stopped and post-processing (final
	// transcription, correction, indexing) is running.
	MeetingProcessing MeetingState = "processing"

	// MeetingDone means the transcript is final.
	MeetingDone MeetingState = "done"

	// MeetingFailed means the recording ended without a usable transcript.
	MeetingFailed MeetingState = "failed"
)

// Meeting is one recorded (or imported) meeting.
type Meeting struct {
	ID       string
	Title    string
	Language string

	// Source is the capture source ("microphone", "system", "both") or
	// "file" for batch-transcribed uploads.
	Source string
	State  MeetingState

	StartedAt time.Time

	// EndedAt is zero while the meeting is still recording.
	EndedAt time.Time

	// Notes are the user's raw notes. EnhancedNotes is the LLM rewrite.
	Notes         string
	EnhancedNotes string

	// Transcript is the final (corrected) transcript text.
	Transcript string

	// AudioPath points at the WAV file kept on disk, if any.
	AudioPath string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Duration returns EndedAt-StartedAt, or zero for a running meeting.
func (m *Meeting) Duration() time.Duration {
	if m.EndedAt.IsZero() || m.StartedAt.IsZero() {
		return 0
	}
	return m.EndedAt.Sub(m.StartedAt)
}

// Segment is one timed span of a meeting transcript. Start and End are
// offsets from the meeting start.
type Segment struct {
	MeetingID  string
	Index      int
	Start      time.Duration
	End        time.Duration
	Text       string
	Confidence float64
}

// Chunk is a window of transcript text with its embedding.
type Chunk struct {
	ID        string
	MeetingID string
	Index     int
	Content   string
	Embedding []float32
}

// ChunkResult pairs a chunk with its cosine distance to a query embedding.
// Lower is closer.
type ChunkResult struct {
	Chunk    Chunk
	Distance float64
}

// ListOptions narrows [MeetingStore.ListMeetings]. Zero values disable a
// filter.
type ListOptions struct {
	// State restricts results to meetings in this state.
	State MeetingState

	// Before returns meetings that started strictly before this instant.
	Before time.Time

	// Limit caps the result count. 0 applies no limit.
	Limit int
}

// MeetingStore is CRUD over meeting records.
type MeetingStore interface {
	// CreateMeeting inserts m. An empty ID is replaced with a new UUID and
	// zero timestamps are set to now; m is updated in place.
	CreateMeeting(ctx context.Context, m *Meeting) error

	// GetMeeting returns ErrNotFound for unknown ids.
	GetMeeting(ctx context.Context, id string) (*Meeting, error)

	// UpdateMeeting replaces every mutable field of an existing meeting and
	// bumps UpdatedAt. Returns ErrNotFound for unknown ids.
	UpdateMeeting(ctx context.Context, m *Meeting) error

	// ListMeetings returns meetings newest first.
	ListMeetings(ctx context.Context, opts ListOptions) ([]Meeting, error)

	// DeleteMeeting removes the meeting with its segments and chunks.
	// Returns ErrNotFound for unknown ids.
	DeleteMeeting(ctx context.Context, id string) error
}

// SegmentStore holds the timed transcript of a meeting.
type SegmentStore interface {
	// ReplaceSegments atomically swaps the segments of meetingID.
	ReplaceSegments(ctx context.Context, meetingID string, segments []Segment) error

	// Segments returns the segments of meetingID ordered by Index.
	Segments(ctx context.Context, meetingID string) ([]Segment, error)
}

// ChunkIndex is the semantic index over transcript chunks.
type ChunkIndex interface {
	// ReplaceChunks atomically swaps the indexed chunks of meetingID.
	ReplaceChunks(ctx context.Context, meetingID string, chunks []Chunk) error

	// SearchChunks returns up to topK chunks of meetingID closest to
	// embedding, most similar first.
	SearchChunks(ctx context.Context, meetingID string, embedding []float32, topK int) ([]ChunkResult, error)

	// ChunkCount returns how many chunks are indexed for meetingID.
	ChunkCount(ctx context.Context, meetingID string) (int, error)
}

// Store is the full persistence surface used by the application.
type Store interface {
	MeetingStore
	SegmentStore
	ChunkIndex

	Close() error
}

// Prepare fills in the ID and timestamps of a meeting about to be created.
// Backends call it from CreateMeeting.
func Prepare(m *Meeting, now time.Time) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.State == "" {
		m.State = MeetingRecording
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = now
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}

// RankChunks orders chunks by cosine distance to query and keeps the topK
// closest. Backends without a native vector index use it.
func RankChunks(chunks []Chunk, query []float32, topK int) []ChunkResult {
	results := make([]ChunkResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, ChunkResult{Chunk: c, Distance: 1 - embeddings.Cosine(c.Embedding, query)})
	}
	slices.SortStableFunc(results, func(a, b ChunkResult) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
