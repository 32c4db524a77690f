package notes_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/minutes/internal/notes"
	"github.com/MrWong99/minutes/pkg/provider/embeddings/mock"
	"github.com/MrWong99/minutes/pkg/provider/llm"
	llmmock "github.com/MrWong99/minutes/pkg/provider/llm/mock"
	"github.com/MrWong99/minutes/pkg/store"
	"github.com/MrWong99/minutes/pkg/store/memstore"
)

func TestSplitWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		text          string
		size, overlap int
		want          []string
	}{
		{"overlap", "a b c d e", 2, 1, []string{"a b", "b c", "c d", "d e"}},
		{"no overlap", "a b c d e", 3, 0, []string{"a b c", "d e"}},
		{"exact fit", "a b c d", 2, 0, []string{"a b", "c d"}},
		{"overlap too large", "a b c", 2, 5, []string{"a b", "c"}},
		{"whitespace collapsed", "  a\n\tb  ", 5, 1, []string{"a b"}},
		{"empty", "   ", 3, 1, nil},
		{"zero size", "a b", 0, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := notes.SplitWords(tt.text, tt.size, tt.overlap); !slices.Equal(got, tt.want) {
				t.Errorf("SplitWords(%q, %d, %d) = %q, want %q", tt.text, tt.size, tt.overlap, got, tt.want)
			}
		})
	}
}

// topicEmbedder maps text mentioning "budget" and everything else onto
// orthogonal vectors.
func topicEmbedder() *mock.Provider {
	return &mock.Provider{
		DimensionsValue: 2,
		EmbedFunc: func(text string) []float32 {
			if strings.Contains(strings.ToLower(text), "budget") {
				return []float32{1, 0}
			}
			return []float32{0, 1}
		},
	}
}

func words(n int, word string) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("%s%d", word, i)
	}
	return strings.Join(w, " ")
}

func TestIndexer_IndexAndSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	emb := topicEmbedder()
	ix := notes.NewIndexer(emb, st, notes.WithChunking(4, 1), notes.WithEmbedBatch(2))

	n, err := ix.Index(ctx, "m1", "one two three four five six seven budget nine ten")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if n != 3 {
		t.Fatalf("chunks = %d, want 3", n)
	}
	if got := len(emb.BatchCalls()); got != 2 {
		t.Errorf("embed batches = %d, want 2", got)
	}
	if c, _ := ix.Count(ctx, "m1"); c != 3 {
		t.Errorf("Count = %d, want 3", c)
	}

	res, err := ix.Search(ctx, "m1", "what was the budget", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || !strings.Contains(res[0].Chunk.Content, "budget") {
		t.Errorf("Search = %+v, want the budget chunk", res)
	}

	if n, err := ix.Index(ctx, "m1", ""); err != nil || n != 0 {
		t.Fatalf("Index(empty) = %d, %v", n, err)
	}
	if c, _ := ix.Count(ctx, "m1"); c != 0 {
		t.Errorf("Count after clearing = %d, want 0", c)
	}
}

func TestIndexer_EmbedError(t *testing.T) {
	t.Parallel()
	st := memstore.New()
	boom := errors.New("embeddings down")
	ix := notes.NewIndexer(&mock.Provider{EmbedBatchErr: boom}, st)

	if _, err := ix.Index(context.Background(), "m1", "some words"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if c, _ := st.ChunkCount(context.Background(), "m1"); c != 0 {
		t.Errorf("chunks stored despite error: %d", c)
	}
}

func TestEnhancer_ShortMeeting(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  ## Decisions\n- Ship Friday\n"}}
	e := notes.NewEnhancer(p, notes.WithEnhanceMaxTokens(800))

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m := &store.Meeting{
		ID:         "m1",
		Title:      "Release sync",
		StartedAt:  start,
		EndedAt:    start.Add(31 * time.Minute),
		Notes:      "ship friday?",
		Transcript: "Priya: we ship on Friday. Theo: agreed.",
	}
	got, err := e.Enhance(context.Background(), m)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if got != "## Decisions\n- Ship Friday" {
		t.Errorf("Enhance = %q", got)
	}
	if p.CompleteCallCount() != 1 {
		t.Fatalf("Complete calls = %d, want 1", p.CompleteCallCount())
	}
	req := p.CompleteCalls[0].Req
	if req.MaxTokens != 800 {
		t.Errorf("MaxTokens = %d, want 800", req.MaxTokens)
	}
	body := req.Messages[0].Content
	for _, want := range []string{"Meeting: Release sync", "Date: 2026-03-02 10:00", "Duration: 31m0s", "ship friday?", "we ship on Friday"} {
		if !strings.Contains(body, want) {
			t.Errorf("prompt missing %q:\n%s", want, body)
		}
	}
	if m.EnhancedNotes != "" {
		t.Error("Enhance modified the meeting")
	}
}

func TestEnhancer_EmptyMeeting(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{}
	_, err := notes.NewEnhancer(p).Enhance(context.Background(), &store.Meeting{ID: "m1", Notes: " "})
	if !errors.Is(err, notes.ErrEmptyMeeting) {
		t.Fatalf("err = %v, want ErrEmptyMeeting", err)
	}
	if p.CompleteCallCount() != 0 {
		t.Error("provider called for empty meeting")
	}
}

func TestEnhancer_CondensesLongTranscript(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 400},
		CompleteFunc: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "- condensed"}, nil
		},
	}
	e := notes.NewEnhancer(p)

	_, err := e.Enhance(context.Background(), &store.Meeting{ID: "m1", Transcript: words(1000, "w")})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	// 200 token budget, 150 words per part.
	if got := p.CompleteCallCount(); got != 8 {
		t.Fatalf("Complete calls = %d, want 7 condense + 1 enhance", got)
	}
	final := p.CompleteCalls[7].Req.Messages[0].Content
	if !strings.Contains(final, "[Part 7/7]") || strings.Contains(final, "w999") {
		t.Errorf("final prompt should carry condensed parts only:\n%.300s", final)
	}
}

func TestEnhancer_ProviderError(t *testing.T) {
	t.Parallel()
	boom := errors.New("rate limited")
	p := &llmmock.Provider{CompleteErr: boom}
	_, err := notes.NewEnhancer(p).Enhance(context.Background(), &store.Meeting{Notes: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func collect(ch <-chan string) string {
	var sb strings.Builder
	for s := range ch {
		sb.WriteString(s)
	}
	return sb.String()
}

func lastStream(t *testing.T, p *llmmock.Provider) llm.CompletionRequest {
	t.Helper()
	req, ok := p.LastStreamRequest()
	if !ok {
		t.Fatal("StreamCompletion was not called")
	}
	return req
}

func seed(t *testing.T, st *memstore.Store, m *store.Meeting) {
	t.Helper()
	if err := st.CreateMeeting(context.Background(), m); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
}

func TestChat_FullTranscript(t *testing.T) {
	t.Parallel()
	st := memstore.New()
	seed(t, st, &store.Meeting{ID: "m1", Title: "Standup", Notes: "blockers", Transcript: "Theo is blocked on the Grafana upgrade."})

	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Theo "}, {Text: ""}, {Text: "is blocked."}}}
	c := notes.NewChat(p, st, notes.WithHistoryTurns(2))

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "old question"},
		{Role: llm.RoleAssistant, Content: "old answer"},
		{Role: llm.RoleSystem, Content: "ignored"},
		{Role: llm.RoleUser, Content: "previous question"},
	}
	ch, err := c.Ask(context.Background(), "m1", history, "  who is blocked?  ")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got := collect(ch); got != "Theo is blocked." {
		t.Errorf("answer = %q", got)
	}

	req := lastStream(t, p)
	if !strings.Contains(req.SystemPrompt, "Theo is blocked on the Grafana upgrade.") {
		t.Errorf("system prompt lacks transcript:\n%s", req.SystemPrompt)
	}
	if !strings.Contains(req.SystemPrompt, "Meeting: Standup") {
		t.Errorf("system prompt lacks title:\n%s", req.SystemPrompt)
	}
	// The last two history entries are kept and the system one is dropped.
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %+v, want previous question + question", req.Messages)
	}
	if req.Messages[0].Content != "previous question" || req.Messages[1].Content != "who is blocked?" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestChat_RetrievesForLongTranscript(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	transcript := words(400, "filler") + " the budget was approved at forty thousand " + words(400, "tail")
	seed(t, st, &store.Meeting{ID: "m1", Transcript: transcript})

	p := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 400},
		StreamChunks:      []llm.Chunk{{Text: "Forty thousand."}},
	}
	ix := notes.NewIndexer(topicEmbedder(), st, notes.WithChunking(50, 10))
	c := notes.NewChat(p, st, notes.WithRetrieval(ix, 1))

	ch, err := c.Ask(ctx, "m1", nil, "What budget was approved?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got := collect(ch); got != "Forty thousand." {
		t.Errorf("answer = %q", got)
	}
	if n, _ := st.ChunkCount(ctx, "m1"); n == 0 {
		t.Error("transcript was not indexed on demand")
	}
	sys := lastStream(t, p).SystemPrompt
	if !strings.Contains(sys, "Transcript excerpts") || !strings.Contains(sys, "budget was approved") {
		t.Errorf("system prompt lacks retrieved excerpt:\n%s", sys)
	}
	if strings.Contains(sys, "tail399") {
		t.Error("system prompt carries the whole transcript")
	}
}

func TestChat_TruncatesWithoutRetrieval(t *testing.T) {
	t.Parallel()
	st := memstore.New()
	seed(t, st, &store.Meeting{ID: "m1", Transcript: words(2000, "w")})

	p := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 400}}
	ch, err := notes.NewChat(p, st).Ask(context.Background(), "m1", nil, "summary?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	collect(ch)
	sys := lastStream(t, p).SystemPrompt
	if !strings.Contains(sys, "beginning only") || !strings.Contains(sys, "w0 ") || strings.Contains(sys, "w1999") {
		t.Errorf("unexpected material:\n%.200s", sys)
	}
}

func TestChat_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	seed(t, st, &store.Meeting{ID: "empty"})
	seed(t, st, &store.Meeting{ID: "m1", Transcript: "hello"})

	boom := errors.New("no stream")
	c := notes.NewChat(&llmmock.Provider{StreamErr: boom}, st)

	if _, err := c.Ask(ctx, "m1", nil, "   "); err == nil {
		t.Error("blank question accepted")
	}
	if _, err := c.Ask(ctx, "missing", nil, "q"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown meeting err = %v, want ErrNotFound", err)
	}
	if _, err := c.Ask(ctx, "empty", nil, "q"); !errors.Is(err, notes.ErrEmptyMeeting) {
		t.Errorf("empty meeting err = %v, want ErrEmptyMeeting", err)
	}
	if _, err := c.Ask(ctx, "m1", nil, "q"); !errors.Is(err, boom) {
		t.Errorf("stream err = %v, want %v", err, boom)
	}
}

func TestChat_StreamFailureEndsAnswer(t *testing.T) {
	t.Parallel()
	st := memstore.New()
	seed(t, st, &store.Meeting{ID: "m1", Transcript: "hello"})
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "partial"},
		{Text: "connection reset", FinishReason: llm.FinishReasonError},
		{Text: "never"},
	}}

	ch, err := notes.NewChat(p, st).Ask(context.Background(), "m1", nil, "q")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got := collect(ch); got != "partial" {
		t.Errorf("answer = %q, want partial", got)
	}
}
