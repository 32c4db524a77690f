// Package notes turns a finished meeting into something useful: it merges
// the user's raw notes with the transcript ([Enhancer]), indexes the
// transcript for semantic retrieval ([Indexer]) and answers questions about
// a meeting ([Chat]).
//
// All types are safe for concurrent use.
package notes

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/minutes/pkg/provider/llm"
)

// ErrEmptyMeeting is returned when a meeting has neither notes nor a
// transcript to work with.
var ErrEmptyMeeting = errors.New("notes: meeting has no notes and no transcript")

// defaultContextWindow is assumed when a provider does not report one.
const defaultContextWindow = 8192

// SplitWords cuts text into windows of at most size words where
// neighbouring windows share overlap words. A window that would only repeat
// the tail of the previous one is not emitted.
func SplitWords(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	var out []string
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

// countTokens asks the provider and falls back to the shared estimate.
func countTokens(p llm.Provider, msgs ...llm.Message) int {
	if n, err := p.CountTokens(msgs); err == nil && n > 0 {
		return n
	}
	return llm.EstimateTokens(msgs)
}

// budget is the share of the provider's context window a single piece of
// meeting text may occupy.
func budget(p llm.Provider, share float64) int {
	window := p.Capabilities().ContextWindow
	if window <= 0 {
		window = defaultContextWindow
	}
	if share <= 0 || share > 1 {
		share = 0.5
	}
	return int(float64(window) * share)
}

func complete(ctx context.Context, p llm.Provider, req llm.CompletionRequest) (string, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}
