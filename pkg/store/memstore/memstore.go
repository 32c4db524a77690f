// Package memstore is an in-process [store.Store]. Nothing is persisted; it
// backs the "memory" storage driver and tests.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/minutes/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store is a thread-safe in-memory [store.Store]. The zero value is ready
// to use.
type Store struct {
	mu       sync.RWMutex
	meetings map[string]store.Meeting
	segments map[string][]store.Segment
	chunks   map[string][]store.Chunk
}

// New returns an empty Store.
func New() *Store { return &Store{} }

// Close implements [store.Store]. It is a no-op.
func (s *Store) Close() error { return nil }

// CreateMeeting implements [store.MeetingStore].
func (s *Store) CreateMeeting(_ context.Context, m *store.Meeting) error {
	store.Prepare(m, time.Now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meetings == nil {
		s.meetings = make(map[string]store.Meeting)
	}
	s.meetings[m.ID] = *m
	return nil
}

// GetMeeting implements [store.MeetingStore].
func (s *Store) GetMeeting(_ context.Context, id string) (*store.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

// UpdateMeeting implements [store.MeetingStore].
func (s *Store) UpdateMeeting(_ context.Context, m *store.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.meetings[m.ID]
	if !ok {
		return store.ErrNotFound
	}
	m.CreatedAt = prev.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	s.meetings[m.ID] = *m
	return nil
}

// ListMeetings implements [store.MeetingStore].
func (s *Store) ListMeetings(_ context.Context, opts store.ListOptions) ([]store.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []store.Meeting{}
	for _, m := range s.meetings {
		if opts.State != "" && m.State != opts.State {
			continue
		}
		if !opts.Before.IsZero() && !m.StartedAt.Before(opts.Before) {
			continue
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b store.Meeting) int { return b.StartedAt.Compare(a.StartedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// DeleteMeeting implements [store.MeetingStore].
func (s *Store) DeleteMeeting(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.meetings, id)
	delete(s.segments, id)
	delete(s.chunks, id)
	return nil
}

// ReplaceSegments implements [store.SegmentStore].
func (s *Store) ReplaceSegments(_ context.Context, meetingID string, segments []store.Segment) error {
	cp := make([]store.Segment, len(segments))
	for i, seg := range segments {
		seg.MeetingID = meetingID
		cp[i] = seg
	}
	slices.SortFunc(cp, func(a, b store.Segment) int { return cmp.Compare(a.Index, b.Index) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.segments == nil {
		s.segments = make(map[string][]store.Segment)
	}
	s.segments[meetingID] = cp
	return nil
}

// Segments implements [store.SegmentStore].
func (s *Store) Segments(_ context.Context, meetingID string) ([]store.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Segment{}, s.segments[meetingID]...), nil
}

// ReplaceChunks implements [store.ChunkIndex].
func (s *Store) ReplaceChunks(_ context.Context, meetingID string, chunks []store.Chunk) error {
	cp := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		c.MeetingID = meetingID
		c.Embedding = slices.Clone(c.Embedding)
		cp[i] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunks == nil {
		s.chunks = make(map[string][]store.Chunk)
	}
	s.chunks[meetingID] = cp
	return nil
}

// SearchChunks implements [store.ChunkIndex].
func (s *Store) SearchChunks(_ context.Context, meetingID string, embedding []float32, topK int) ([]store.ChunkResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.RankChunks(s.chunks[meetingID], embedding, topK), nil
}

// ChunkCount implements [store.ChunkIndex].
func (s *Store) ChunkCount(_ context.Context, meetingID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[meetingID]), nil
}
