// Package whispercpp provides a recognizer running whisper.cpp in-process
// through its CGO bindings, avoiding the HTTP hop to a whisper-server.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h)
// must be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/recognizer"
)

// Compile-time assertion that Recognizer satisfies recognizer.Recognizer.
var _ recognizer.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithThreads sets the number of CPU threads per inference. Zero keeps the
// library default.
func WithThreads(n uint) Option {
	return func(r *Recognizer) { r.threads = n }
}

// WithModelName sets the name reported by Info. Defaults to the model file path.
func WithModelName(name string) Option {
	return func(r *Recognizer) { r.name = name }
}

// Recognizer implements recognizer.Recognizer with a whisper.cpp model
// loaded once at startup. Each call creates its own context from the shared
// model, so calls may run concurrently.
type Recognizer struct {
	model   whisperlib.Model
	name    string
	threads uint

	closeOnce sync.Once
	closeErr  error
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the recognizer is no longer needed.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}
	r := &Recognizer{model: model, name: modelPath}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Close releases the model.
func (r *Recognizer) Close() error {
	r.closeOnce.Do(func() {
		if r.model != nil {
			r.closeErr = r.model.Close()
		}
	})
	return r.closeErr
}

// Info implements recognizer.Recognizer.
func (r *Recognizer) Info() recognizer.Info {
	return recognizer.Info{Name: "whispercpp", Model: r.name, Device: "cpu"}
}

// Recognize runs whisper.cpp inference over pcm. ctx is checked before the
// (non-interruptible) inference starts.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, opts recognizer.Options) (*recognizer.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whispercpp: %w", err)
	}
	samples := audio.PCMToFloat32(pcm)

	// Contexts are not thread-safe; the model is.
	wctx, err := r.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whispercpp: create context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whispercpp: failed to set language, using default", "language", lang, "error", err)
	}
	if opts.Prompt != "" {
		wctx.SetInitialPrompt(opts.Prompt)
	}
	if r.threads > 0 {
		wctx.SetThreads(r.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whispercpp: process audio: %w", err)
	}

	res := &recognizer.Result{
		Language: wctx.DetectedLanguage(),
		Duration: audio.Speech.Duration(len(pcm)),
	}
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whispercpp: read segment: %w", err)
		}
		res.Segments = append(res.Segments, recognizer.Segment{
			ID:         segment.Num,
			Start:      segment.Start,
			End:        segment.End,
			Text:       strings.TrimSpace(segment.Text),
			Confidence: meanTokenProbability(segment.Tokens),
		})
	}
	res.Text = recognizer.JoinSegments(res.Segments)
	if res.Language == "" {
		res.Language = opts.Language
	}
	return res, nil
}

func meanTokenProbability(tokens []whisperlib.Token) float64 {
	if len(tokens) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tokens {
		sum += float64(t.P)
	}
	return sum / float64(len(tokens))
}
