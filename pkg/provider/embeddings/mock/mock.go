// Package mock provides a test double for the embeddings.Provider interface.
//
// Set EmbedFunc for deterministic per-text vectors (useful when a test checks
// retrieval ranking), or the fixed Result fields for canned responses.
//
//	p := &mock.Provider{
//	    EmbedFunc:       func(text string) []float32 { return []float32{float32(len(text))} },
//	    DimensionsValue: 1,
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/minutes/pkg/provider/embeddings"
)

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, when set, computes every vector and takes precedence over
	// EmbedResult and EmbedBatchResult.
	EmbedFunc func(text string) []float32

	// EmbedResult is returned by Embed.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedBatchResult is returned by EmbedBatch. If nil, one nil vector per
	// input text is returned.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, if non-nil, is returned as the error from EmbedBatch.
	EmbedBatchErr error

	DimensionsValue int
	ModelIDValue    string

	embedCalls []string
	batchCalls []EmbedBatchCall
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed records the call and returns the configured vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedCalls = append(p.embedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text), nil
	}
	return p.EmbedResult, nil
}

// EmbedBatch records the call and returns the configured vectors.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchCalls = append(p.batchCalls, EmbedBatchCall{Ctx: ctx, Texts: append([]string(nil), texts...)})
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedFunc != nil {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = p.EmbedFunc(text)
		}
		return out, nil
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue, or "mock-embed" when unset.
func (p *Provider) ModelID() string {
	if p.ModelIDValue == "" {
		return "mock-embed"
	}
	return p.ModelIDValue
}

// EmbedCalls returns the texts passed to Embed so far.
func (p *Provider) EmbedCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.embedCalls...)
}

// BatchCalls returns the recorded EmbedBatch invocations.
func (p *Provider) BatchCalls() []EmbedBatchCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]EmbedBatchCall(nil), p.batchCalls...)
}
