package resilience

import (
	"context"

	"github.com/MrWong99/minutes/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends, e.g. a hosted model backed by a local Ollama instance. Each
// backend has its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Call(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a stream on the first healthy provider. Only
// opening the stream fails over; errors after that arrive as
// [llm.FinishReasonError] chunks on the returned channel.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Call(ctx, f.group, func(ctx context.Context, p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens returns the largest estimate among the providers so a request
// sized for one backend also fits whichever one ends up serving it.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	best, found := 0, false
	var firstErr error
	for _, e := range f.group.members {
		n, err := e.value.CountTokens(messages)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		found = true
		best = max(best, n)
	}
	if !found {
		return 0, firstErr
	}
	return best, nil
}

// Capabilities reports the intersection of all registered providers: the
// smallest context window and output limit, and streaming only if every
// backend streams.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	var caps llm.ModelCapabilities
	for i, e := range f.group.members {
		c := e.value.Capabilities()
		if i == 0 {
			caps = c
			continue
		}
		caps.ContextWindow = min(caps.ContextWindow, c.ContextWindow)
		caps.MaxOutputTokens = min(caps.MaxOutputTokens, c.MaxOutputTokens)
		caps.SupportsStreaming = caps.SupportsStreaming && c.SupportsStreaming
	}
	return caps
}

// Check fails while every backend's breaker is open.
func (f *LLMFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }
