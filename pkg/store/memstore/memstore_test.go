package memstore_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/minutes/pkg/store"
	"github.com/MrWong99/minutes/pkg/store/memstore"
	"github.com/MrWong99/minutes/pkg/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) store.Store { return memstore.New() })
}

func TestStore_ZeroValue(t *testing.T) {
	t.Parallel()
	var s memstore.Store
	if err := s.CreateMeeting(t.Context(), &store.Meeting{Title: "x"}); err != nil {
		t.Fatalf("CreateMeeting on zero value: %v", err)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()
	s := memstore.New()
	m := &store.Meeting{Title: "original"}
	_ = s.CreateMeeting(t.Context(), m)

	got, _ := s.GetMeeting(t.Context(), m.ID)
	got.Title = "mutated"

	again, _ := s.GetMeeting(t.Context(), m.ID)
	if again.Title != "original" {
		t.Errorf("store leaked internal state: %q", again.Title)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	s := memstore.New()
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			m := &store.Meeting{Title: "concurrent"}
			if err := s.CreateMeeting(t.Context(), m); err != nil {
				t.Error(err)
				return
			}
			_, _ = s.ListMeetings(t.Context(), store.ListOptions{})
			_ = s.ReplaceChunks(t.Context(), m.ID, []store.Chunk{{ID: m.ID, Embedding: []float32{1}}})
		})
	}
	wg.Wait()
	all, _ := s.ListMeetings(t.Context(), store.ListOptions{})
	if len(all) != 20 {
		t.Errorf("got %d meetings, want 20", len(all))
	}
}
