// Package llmcorrect asks a language model to double-check vocabulary
// corrections in meeting transcripts. It only sees the blocks of a transcript
// that contain low-confidence spans, and every change it proposes is
// diffed against the input: edits the model did not declare are reverted.
//
// An unparseable model reply leaves the block unchanged. Transport errors
// and context cancellation are returned.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/minutes/pkg/provider/llm"
)

const (
	defaultTemperature = 0.1
	defaultBlockWords  = 250
)

const systemPrompt = `You proofread meeting transcripts produced by speech recognition.

Fix ONLY words that are misrecognised versions of the vocabulary below: names of people, products, projects and acronyms.
- Do not rephrase, fix grammar, or change punctuation.
- When unsure, leave the text as it is.
- Use the exact spelling from the vocabulary.

Vocabulary:
%s
Reply with a single JSON object and nothing else:
{"corrected_text": "<full block with fixes applied>", "corrections": [{"original": "<heard>", "corrected": "<vocabulary spelling>", "confidence": <0.0-1.0>}]}`

// Correction is one substitution the model declared and the diff confirmed.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

type reply struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option configures a [Verifier].
type Option func(*Verifier)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(t float64) Option {
	return func(v *Verifier) { v.temperature = t }
}

// WithBlockWords sets the maximum words per block sent to the model.
// Default: 250.
func WithBlockWords(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.blockWords = n
		}
	}
}

// Verifier is safe for concurrent use.
type Verifier struct {
	llm         llm.Provider
	temperature float64
	blockWords  int
}

// New returns a Verifier backed by provider.
func New(provider llm.Provider, opts ...Option) *Verifier {
	v := &Verifier{
		llm:         provider,
		temperature: defaultTemperature,
		blockWords:  defaultBlockWords,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify checks the blocks of text that contain any of spans against
// vocabulary. Each vocabulary line may carry a hint, e.g.
// "Priya Raman (person, Head of Platform)". With no spans or no vocabulary
// the text is returned untouched and the model is not called.
func (v *Verifier) Verify(ctx context.Context, text string, vocabulary, spans []string) (string, []Correction, error) {
	if len(vocabulary) == 0 || len(spans) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}
	prompt := buildPrompt(vocabulary)

	blocks := splitBlocks(text, v.blockWords)
	var all []Correction
	for i, block := range blocks {
		flagged := flaggedSpans(block, spans)
		if len(flagged) == 0 {
			continue
		}
		fixed, corr, err := v.verifyBlock(ctx, prompt, block, flagged)
		if err != nil {
			return text, nil, err
		}
		blocks[i] = fixed
		all = append(all, corr...)
	}
	return strings.Join(blocks, " "), all, nil
}

func (v *Verifier) verifyBlock(ctx context.Context, prompt, block string, flagged []string) (string, []Correction, error) {
	resp, err := v.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompt,
		Temperature:  v.temperature,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Transcript block:\n%s\n\nPossibly misheard: %s", block, strings.Join(flagged, ", ")),
		}},
	})
	if err != nil {
		return block, nil, fmt.Errorf("llmcorrect: complete: %w", err)
	}
	if resp == nil {
		return block, nil, nil
	}

	var r reply
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &r); err != nil {
		slog.Warn("llmcorrect: unparseable model reply, keeping block", "err", err, "len", len(resp.Content))
		return block, nil, nil
	}
	if r.CorrectedText == "" {
		return block, nil, nil
	}
	declared := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == "" || c.Original == c.Corrected {
			continue
		}
		declared = append(declared, Correction{Original: c.Original, Corrected: c.Corrected, Confidence: c.Confidence})
	}
	fixed, kept := applyDeclared(block, r.CorrectedText, declared)
	return fixed, kept, nil
}

func buildPrompt(vocabulary []string) string {
	var sb strings.Builder
	for _, w := range vocabulary {
		sb.WriteString("- ")
		sb.WriteString(w)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPrompt, sb.String())
}

// splitBlocks cuts text into blocks of at most n words, preferring to end a
// block after a sentence-final token once it is half full.
func splitBlocks(text string, n int) []string {
	words := strings.Fields(text)
	var (
		blocks []string
		start  int
	)
	for i, w := range words {
		size := i - start + 1
		sentenceEnd := strings.HasSuffix(w, ".") || strings.HasSuffix(w, "?") || strings.HasSuffix(w, "!")
		if size >= n || (sentenceEnd && size >= n/2) {
			blocks = append(blocks, strings.Join(words[start:i+1], " "))
			start = i + 1
		}
	}
	if start < len(words) {
		blocks = append(blocks, strings.Join(words[start:], " "))
	}
	return blocks
}

func flaggedSpans(block string, spans []string) []string {
	lower := strings.ToLower(block)
	var out []string
	for _, s := range spans {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			out = append(out, s)
		}
	}
	return out
}

// stripFences removes a ```json fence some models wrap around JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s, _ = strings.CutSuffix(s, "```")
	return strings.TrimSpace(s)
}
