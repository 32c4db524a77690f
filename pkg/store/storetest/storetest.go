// Package storetest is a conformance suite run against every [store.Store]
// backend.
package storetest

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/minutes/pkg/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, newStore(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("Segments", func(t *testing.T) { testSegments(t, newStore(t)) })
	t.Run("Chunks", func(t *testing.T) { testChunks(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := t.Context()

	m := &store.Meeting{Title: "Weekly sync", Language: "en", Source: "both", Notes: "- budget"}
	if err := s.CreateMeeting(ctx, m); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	if m.ID == "" {
		t.Fatal("CreateMeeting did not assign an ID")
	}
	if m.State != store.MeetingRecording {
		t.Errorf("default state: got %q, want %q", m.State, store.MeetingRecording)
	}

	got, err := s.GetMeeting(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if got.Title != "Weekly sync" || got.Language != "en" || got.Source != "both" || got.Notes != "- budget" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.EndedAt.IsZero() {
		t.Errorf("EndedAt: got %v, want zero", got.EndedAt)
	}
	if got.StartedAt.Sub(m.StartedAt).Abs() > time.Millisecond {
		t.Errorf("StartedAt: got %v, want %v", got.StartedAt, m.StartedAt)
	}
}

func testGetUnknown(t *testing.T, s store.Store) {
	defer s.Close()
	if _, err := s.GetMeeting(t.Context(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetMeeting: got %v, want ErrNotFound", err)
	}
	err := s.UpdateMeeting(t.Context(), &store.Meeting{ID: "nope", State: store.MeetingDone})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateMeeting: got %v, want ErrNotFound", err)
	}
	if err := s.DeleteMeeting(t.Context(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteMeeting: got %v, want ErrNotFound", err)
	}
}

func testUpdate(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := t.Context()

	m := &store.Meeting{Title: "Standup"}
	if err := s.CreateMeeting(ctx, m); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	m.State = store.MeetingDone
	m.EndedAt = m.StartedAt.Add(15 * time.Minute)
	m.Transcript = "Hello world"
	m.EnhancedNotes = "## Summary"
	if err := s.UpdateMeeting(ctx, m); err != nil {
		t.Fatalf("UpdateMeeting: %v", err)
	}

	got, err := s.GetMeeting(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if got.State != store.MeetingDone || got.Transcript != "Hello world" || got.EnhancedNotes != "## Summary" {
		t.Errorf("update not persisted: %+v", got)
	}
	if d := got.Duration(); d < 15*time.Minute-time.Millisecond || d > 15*time.Minute+time.Millisecond {
		t.Errorf("Duration: got %v, want 15m", d)
	}
}

func testList(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := t.Context()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, state := range []store.MeetingState{store.MeetingDone, store.MeetingDone, store.MeetingFailed} {
		m := &store.Meeting{Title: string(state), State: state, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.CreateMeeting(ctx, m); err != nil {
			t.Fatalf("CreateMeeting: %v", err)
		}
	}

	all, err := s.ListMeetings(ctx, store.ListOptions{})
	if err != nil {
		t.Fatalf("ListMeetings: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListMeetings: got %d, want 3", len(all))
	}
	if !all[0].StartedAt.After(all[1].StartedAt) {
		t.Error("ListMeetings must return newest first")
	}

	done, err := s.ListMeetings(ctx, store.ListOptions{State: store.MeetingDone, Limit: 1})
	if err != nil {
		t.Fatalf("ListMeetings(done): %v", err)
	}
	if len(done) != 1 || done[0].State != store.MeetingDone {
		t.Errorf("ListMeetings(done, limit 1): got %+v", done)
	}

	early, err := s.ListMeetings(ctx, store.ListOptions{Before: base.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("ListMeetings(before): %v", err)
	}
	if len(early) != 1 {
		t.Errorf("ListMeetings(before): got %d, want 1", len(early))
	}
}

func testDelete(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := t.Context()

	m := &store.Meeting{Title: "Retro"}
	if err := s.CreateMeeting(ctx, m); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	if err := s.ReplaceSegments(ctx, m.ID, []store.Segment{{Index: 0, Text: "hi"}}); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}
	if err := s.ReplaceChunks(ctx, m.ID, []store.Chunk{{ID: m.ID + "-0", Content: "hi", Embedding: []float32{1, 0, 0, 0}}}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	if err := s.DeleteMeeting(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMeeting: %v", err)
	}
	if _, err := s.GetMeeting(ctx, m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetMeeting after delete: got %v", err)
	}
	segs, err := s.Segments(ctx, m.ID)
	if err != nil || len(segs) != 0 {
		t.Errorf("segments after delete: %v, %v", segs, err)
	}
	if n, err := s.ChunkCount(ctx, m.ID); err != nil || n != 0 {
		t.Errorf("chunks after delete: %d, %v", n, err)
	}
}

func testSegments(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := t.Context()

	m := &store.Meeting{Title: "Planning"}
	if err := s.CreateMeeting(ctx, m); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	first := []store.Segment{
		{Index: 1, Start: 2 * time.Second, End: 4 * time.Second, Text: "world", Confidence: 0.8},
		{Index: 0, Start: 0, End: 2 * time.Second, Text: "Hello", Confidence: 0.9},
	}
	if err := s.ReplaceSegments(ctx, m.ID, first); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}
	got, err := s.Segments(ctx, m.ID)
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(got) != 2 || got[0].Text != "Hello" || got[1].Text != "world" {
		t.Fatalf("Segments: got %+v", got)
	}
	if got[1].Start != 2*time.Second || got[1].End != 4*time.Second || got[1].MeetingID != m.ID {
		t.Errorf("segment fields: %+v", got[1])
	}

	if err := s.ReplaceSegments(ctx, m.ID, []store.Segment{{Index: 0, Text: "Hello world"}}); err != nil {
		t.Fatalf("ReplaceSegments (2nd): %v", err)
	}
	got, err = s.Segments(ctx, m.ID)
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(got) != 1 || got[0].Text != "Hello world" {
		t.Errorf("replace did not swap segments: %+v", got)
	}
}

func testChunks(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := t.Context()

	m := &store.Meeting{Title: "Design review"}
	if err := s.CreateMeeting(ctx, m); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	other := &store.Meeting{Title: "Other"}
	if err := s.CreateMeeting(ctx, other); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}

	chunks := []store.Chunk{
		{ID: "c0", Index: 0, Content: "budget", Embedding: []float32{1, 0, 0, 0}},
		{ID: "c1", Index: 1, Content: "hiring", Embedding: []float32{0, 1, 0, 0}},
		{ID: "c2", Index: 2, Content: "budget again", Embedding: []float32{0.9, 0.1, 0, 0}},
	}
	if err := s.ReplaceChunks(ctx, m.ID, chunks); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	if err := s.ReplaceChunks(ctx, other.ID, []store.Chunk{{ID: "x0", Content: "noise", Embedding: []float32{1, 0, 0, 0}}}); err != nil {
		t.Fatalf("ReplaceChunks(other): %v", err)
	}

	n, err := s.ChunkCount(ctx, m.ID)
	if err != nil || n != 3 {
		t.Fatalf("ChunkCount: got %d, %v", n, err)
	}

	res, err := s.SearchChunks(ctx, m.ID, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("SearchChunks: got %d results, want 2", len(res))
	}
	if res[0].Chunk.ID != "c0" || res[1].Chunk.ID != "c2" {
		t.Errorf("SearchChunks order: got %s, %s", res[0].Chunk.ID, res[1].Chunk.ID)
	}
	if res[0].Distance > res[1].Distance {
		t.Error("results must be ordered by ascending distance")
	}
	if res[0].Chunk.MeetingID != m.ID || len(res[0].Chunk.Embedding) != 4 {
		t.Errorf("chunk fields: %+v", res[0].Chunk)
	}

	if err := s.ReplaceChunks(ctx, m.ID, nil); err != nil {
		t.Fatalf("ReplaceChunks(nil): %v", err)
	}
	if n, _ := s.ChunkCount(ctx, m.ID); n != 0 {
		t.Errorf("ChunkCount after clear: %d", n)
	}
}
