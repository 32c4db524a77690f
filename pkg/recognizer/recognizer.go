// Package recognizer defines the batch speech recognition interface used by
// the transcription server.
//
// A Recognizer turns a buffer of 16 kHz mono PCM16 audio into text. The
// streaming protocol re-runs recognition over the whole accumulated buffer
// every few chunks, so implementations see growing prefixes of the same
// recording and must be safe for concurrent use.
package recognizer

import (
	"context"
	"strings"
	"time"
)

// Options carries per-request recognition hints.
type Options struct {
	// Language is an ISO 639-1 code such as "en" or "de". Empty lets the
	// backend detect the language if it can.
	Language string

	// Prompt biases decoding towards the given vocabulary, e.g. attendee
	// names and product terms. Backends without prompt support ignore it.
	Prompt string
}

// Segment is one recognised span.
type Segment struct {
	ID    int
	Start time.Duration
	End   time.Duration
	Text  string

	// Confidence is in [0, 1]. Zero when the backend does not report it.
	Confidence float64
}

// Result is the outcome of one recognition pass.
type Result struct {
	Text     string
	Language string
	Duration time.Duration
	Segments []Segment
}

// Info describes a backend for health reporting.
type Info struct {
	Name   string
	Model  string
	Device string
}

// Recognizer is the abstraction over any batch speech-to-text backend.
type Recognizer interface {
	// Recognize transcribes pcm, which must be 16 kHz mono PCM16LE.
	Recognize(ctx context.Context, pcm []byte, opts Options) (*Result, error)

	// Info returns static metadata about the backend.
	Info() Info
}

// JoinSegments concatenates segment texts with single spaces, trimming
// whitespace around each.
func JoinSegments(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
