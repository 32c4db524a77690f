// Package mock provides a test double for the recognizer.Recognizer interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/minutes/pkg/recognizer"
)

var _ recognizer.Recognizer = (*Recognizer)(nil)

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	PCM  []byte
	Opts recognizer.Options
}

// Recognizer is a mock implementation of recognizer.Recognizer.
// Zero values cause Recognize to return an empty result.
type Recognizer struct {
	mu sync.Mutex

	// Result is returned by Recognize when TextFunc is nil.
	Result *recognizer.Result

	// TextFunc, if set, derives the result text from the audio, e.g. to
	// emulate a growing cumulative transcript.
	TextFunc func(pcm []byte) string

	// Err, if non-nil, is returned from Recognize.
	Err error

	// Block, if non-nil, makes Recognize wait until it is closed or ctx ends.
	Block chan struct{}

	// RecognizerInfo is returned by Info.
	RecognizerInfo recognizer.Info

	// Calls records every invocation of Recognize in order.
	Calls []RecognizeCall

	inflight, maxInflight int
}

// Recognize implements recognizer.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, opts recognizer.Options) (*recognizer.Result, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, RecognizeCall{PCM: append([]byte(nil), pcm...), Opts: opts})
	r.inflight++
	if r.inflight > r.maxInflight {
		r.maxInflight = r.inflight
	}
	block, err, res, fn := r.Block, r.Err, r.Result, r.TextFunc
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inflight--
		r.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return &recognizer.Result{Text: fn(pcm), Language: opts.Language}, nil
	}
	if res == nil {
		return &recognizer.Result{Language: opts.Language}, nil
	}
	out := *res
	return &out, nil
}

// Info implements recognizer.Recognizer.
func (r *Recognizer) Info() recognizer.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.RecognizerInfo
}

// CallCount returns the number of Recognize calls so far.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// MaxConcurrent returns the highest number of overlapping Recognize calls seen.
func (r *Recognizer) MaxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInflight
}
