package resilience

import (
	"context"

	"github.com/MrWong99/minutes/pkg/recognizer"
)

// RecognizerFallback implements [recognizer.Recognizer] with automatic
// failover across multiple speech recognition backends. Each backend has its
// own circuit breaker.
type RecognizerFallback struct {
	group *FallbackGroup[recognizer.Recognizer]
}

// Compile-time interface assertion.
var _ recognizer.Recognizer = (*RecognizerFallback)(nil)

// NewRecognizerFallback creates a [RecognizerFallback] with primary as the
// preferred backend.
func NewRecognizerFallback(primary recognizer.Recognizer, primaryName string, cfg FallbackConfig) *RecognizerFallback {
	return &RecognizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognizer as a fallback.
func (f *RecognizerFallback) AddFallback(name string, r recognizer.Recognizer) {
	f.group.AddFallback(name, r)
}

// Recognize runs recognition on the first healthy backend. A cancelled
// context is returned as-is without tripping any breaker.
func (f *RecognizerFallback) Recognize(ctx context.Context, pcm []byte, opts recognizer.Options) (*recognizer.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Call(ctx, f.group, func(ctx context.Context, r recognizer.Recognizer) (*recognizer.Result, error) {
		return r.Recognize(ctx, pcm, opts)
	})
}

// Info returns the metadata of the primary backend.
func (f *RecognizerFallback) Info() recognizer.Info {
	if len(f.group.members) > 0 {
		return f.group.members[0].value.Info()
	}
	return recognizer.Info{}
}

// Check fails while every backend's breaker is open.
func (f *RecognizerFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }
