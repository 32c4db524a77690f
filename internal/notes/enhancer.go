package notes

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/pkg/provider/llm"
	"github.com/MrWong99/minutes/pkg/store"
)

const enhancePrompt = `You turn a meeting transcript and the attendee's rough notes into clean meeting notes in Markdown.

- Keep every point from the rough notes; expand them with details from the transcript.
- Add decisions, action items (with owner when stated) and open questions under their own headings.
- Do not invent facts that are not in the notes or transcript.
- Write in the language of the transcript.`

const condensePrompt = `Condense this part of a meeting transcript into dense bullet points.
Keep names, numbers, decisions, action items with owners, and open questions. Drop small talk.`

// EnhancerOption configures an [Enhancer].
type EnhancerOption func(*Enhancer)

// WithEnhanceTemperature sets the sampling temperature. Default: 0.3.
func WithEnhanceTemperature(t float64) EnhancerOption {
	return func(e *Enhancer) { e.temperature = t }
}

// WithEnhanceMaxTokens caps the length of the enhanced notes.
func WithEnhanceMaxTokens(n int) EnhancerOption {
	return func(e *Enhancer) { e.maxTokens = n }
}

// WithTranscriptShare sets the fraction of the context window the
// transcript may fill before it is condensed part by part. Default: 0.5.
func WithTranscriptShare(share float64) EnhancerOption {
	return func(e *Enhancer) { e.share = share }
}

// WithEnhancerMetrics records completion latency on m.
func WithEnhancerMetrics(m *observe.Metrics) EnhancerOption {
	return func(e *Enhancer) { e.metrics = m }
}

// Enhancer rewrites raw meeting notes with the help of the transcript.
type Enhancer struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
	share       float64
	metrics     *observe.Metrics
}

// NewEnhancer returns an Enhancer backed by provider.
func NewEnhancer(provider llm.Provider, opts ...EnhancerOption) *Enhancer {
	e := &Enhancer{llm: provider, temperature: 0.3, share: 0.5}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enhance returns enhanced notes for m. It does not modify m; callers store
// the result in EnhancedNotes. A transcript too long for the model is first
// condensed part by part.
func (e *Enhancer) Enhance(ctx context.Context, m *store.Meeting) (string, error) {
	if strings.TrimSpace(m.Notes) == "" && strings.TrimSpace(m.Transcript) == "" {
		return "", ErrEmptyMeeting
	}

	transcript, err := e.fit(ctx, m.Transcript)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Meeting: %s\n", cmp.Or(m.Title, "(untitled)"))
	if !m.StartedAt.IsZero() {
		fmt.Fprintf(&sb, "Date: %s\n", m.StartedAt.Format("2006-01-02 15:04"))
	}
	if d := m.Duration(); d > 0 {
		fmt.Fprintf(&sb, "Duration: %s\n", d.Round(time.Minute))
	}
	fmt.Fprintf(&sb, "\nRough notes:\n%s\n", cmp.Or(strings.TrimSpace(m.Notes), "(none)"))
	fmt.Fprintf(&sb, "\nTranscript:\n%s\n", cmp.Or(transcript, "(none)"))

	start := time.Now()
	out, err := complete(ctx, e.llm, llm.CompletionRequest{
		SystemPrompt: enhancePrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
	})
	e.observe(ctx, start)
	if err != nil {
		return "", fmt.Errorf("notes: enhance: %w", err)
	}
	slog.Info("notes: meeting enhanced", "meeting", m.ID, "duration", time.Since(start), "chars", len(out))
	return out, nil
}

// fit returns transcript unchanged when it fits the budget and a condensed
// version otherwise.
func (e *Enhancer) fit(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	limit := budget(e.llm, e.share)
	if transcript == "" || countTokens(e.llm, llm.Message{Role: llm.RoleUser, Content: transcript}) <= limit {
		return transcript, nil
	}

	// About three words per four tokens.
	parts := SplitWords(transcript, max(limit*3/4, 100), 0)
	slog.Debug("notes: condensing long transcript", "parts", len(parts), "budget_tokens", limit)

	condensed := make([]string, 0, len(parts))
	for i, part := range parts {
		start := time.Now()
		out, err := complete(ctx, e.llm, llm.CompletionRequest{
			SystemPrompt: condensePrompt,
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: part}},
			Temperature:  0.2,
		})
		e.observe(ctx, start)
		if err != nil {
			return "", fmt.Errorf("notes: condense part %d/%d: %w", i+1, len(parts), err)
		}
		condensed = append(condensed, fmt.Sprintf("[Part %d/%d]\n%s", i+1, len(parts), out))
	}
	return strings.Join(condensed, "\n\n"), nil
}

func (e *Enhancer) observe(ctx context.Context, start time.Time) {
	if e.metrics != nil {
		e.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
}
