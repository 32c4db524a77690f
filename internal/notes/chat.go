package notes

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/pkg/provider/llm"
	"github.com/MrWong99/minutes/pkg/store"
)

const chatPrompt = `You answer questions about one meeting. Use only the meeting material below.
If the answer is not in the material, say so. Quote people by name when the transcript names them.

Meeting: %s
Date: %s

Notes:
%s

%s:
%s`

const (
	defaultTopK         = 6
	defaultHistoryTurns = 12
)

// ChatOption configures a [Chat].
type ChatOption func(*Chat)

// WithRetrieval enables semantic retrieval through ix for transcripts that
// do not fit the context budget. Without it long transcripts are cut.
func WithRetrieval(ix *Indexer, topK int) ChatOption {
	return func(c *Chat) {
		c.indexer = ix
		if topK > 0 {
			c.topK = topK
		}
	}
}

// WithContextShare sets the fraction of the context window the transcript
// may fill. Default: 0.5.
func WithContextShare(share float64) ChatOption {
	return func(c *Chat) { c.share = share }
}

// WithHistoryTurns caps how many previous messages are replayed to the
// model. Default: 12.
func WithHistoryTurns(n int) ChatOption {
	return func(c *Chat) { c.historyTurns = n }
}

// WithChatSampling sets temperature and the answer token cap.
func WithChatSampling(temperature float64, maxTokens int) ChatOption {
	return func(c *Chat) {
		c.temperature = temperature
		c.maxTokens = maxTokens
	}
}

// WithChatMetrics records completion latency on m.
func WithChatMetrics(m *observe.Metrics) ChatOption {
	return func(c *Chat) { c.metrics = m }
}

// Chat answers questions about a stored meeting.
type Chat struct {
	llm          llm.Provider
	meetings     store.MeetingStore
	indexer      *Indexer
	topK         int
	share        float64
	historyTurns int
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics
}

// NewChat returns a Chat over the meetings in ms.
func NewChat(provider llm.Provider, ms store.MeetingStore, opts ...ChatOption) *Chat {
	c := &Chat{
		llm:          provider,
		meetings:     ms,
		topK:         defaultTopK,
		share:        0.5,
		historyTurns: defaultHistoryTurns,
		temperature:  0.3,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ask streams the answer to question about meetingID. history holds the
// earlier turns of the conversation, oldest first. The returned channel is
// closed when the answer is complete, the stream fails or ctx ends; a
// stream failure after the first token is logged.
func (c *Chat) Ask(ctx context.Context, meetingID string, history []llm.Message, question string) (<-chan string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("notes: empty question")
	}
	m, err := c.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("notes: load meeting %s: %w", meetingID, err)
	}
	if strings.TrimSpace(m.Transcript) == "" && strings.TrimSpace(m.Notes) == "" {
		return nil, ErrEmptyMeeting
	}

	label, material, err := c.material(ctx, m, question)
	if err != nil {
		return nil, err
	}
	date := "unknown"
	if !m.StartedAt.IsZero() {
		date = m.StartedAt.Format("2006-01-02 15:04")
	}
	system := fmt.Sprintf(chatPrompt,
		cmp.Or(m.Title, "(untitled)"), date,
		cmp.Or(strings.TrimSpace(cmp.Or(m.EnhancedNotes, m.Notes)), "(none)"),
		label, cmp.Or(material, "(none)"))

	msgs := make([]llm.Message, 0, c.historyTurns+1)
	if c.historyTurns > 0 && len(history) > c.historyTurns {
		history = history[len(history)-c.historyTurns:]
	}
	for _, h := range history {
		if h.Role == llm.RoleUser || h.Role == llm.RoleAssistant {
			msgs = append(msgs, h)
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question})

	start := time.Now()
	stream, err := c.llm.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     msgs,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("notes: chat: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() {
			if c.metrics != nil {
				c.metrics.LLMDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds())
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-stream:
				if !ok {
					return
				}
				if chunk.FinishReason == llm.FinishReasonError {
					slog.Warn("notes: chat stream failed", "meeting", meetingID, "err", chunk.Text)
					return
				}
				if chunk.Text == "" {
					continue
				}
				select {
				case out <- chunk.Text:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// material picks what the model sees of the transcript: all of it when it
// fits, the closest chunks when retrieval is enabled, the beginning
// otherwise.
func (c *Chat) material(ctx context.Context, m *store.Meeting, question string) (string, string, error) {
	transcript := strings.TrimSpace(m.Transcript)
	limit := budget(c.llm, c.share)
	if transcript == "" || countTokens(c.llm, llm.Message{Role: llm.RoleUser, Content: transcript}) <= limit {
		return "Transcript", transcript, nil
	}

	if c.indexer == nil {
		parts := SplitWords(transcript, max(limit*3/4, 100), 0)
		slog.Debug("notes: transcript exceeds budget, truncating", "meeting", m.ID, "parts", len(parts))
		return "Transcript (beginning only)", parts[0], nil
	}

	n, err := c.indexer.Count(ctx, m.ID)
	if err != nil {
		return "", "", err
	}
	if n == 0 {
		if _, err := c.indexer.Index(ctx, m.ID, transcript); err != nil {
			return "", "", err
		}
	}
	results, err := c.indexer.Search(ctx, m.ID, question, c.topK)
	if err != nil {
		return "", "", err
	}
	// Present excerpts in meeting order.
	slices.SortFunc(results, func(a, b store.ChunkResult) int { return a.Chunk.Index - b.Chunk.Index })

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n…\n")
		}
		sb.WriteString(r.Chunk.Content)
	}
	slog.Debug("notes: retrieved transcript excerpts", "meeting", m.ID, "excerpts", len(results))
	return "Transcript excerpts", sb.String(), nil
}
