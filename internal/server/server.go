// Package server is the reference transcription server for the minutes
// client. It runs a [recognizer.Recognizer] behind three endpoints:
//
//   - GET /health: model and device of the recognizer.
//   - POST /transcribe: batch transcription of an uploaded audio file
//     (multipart field "file", optional "language" query parameter).
//   - GET /stream: the WebSocket streaming protocol of package transcribe.
//     Every BatchSize audio chunks the whole accumulated buffer is
//     recognised again and the cumulative transcript is sent back.
//
// Recognition runs on a bounded number of workers shared by all requests.
package server

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/minutes/internal/health"
	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/internal/vocab"
	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/recognizer"
	"github.com/MrWong99/minutes/pkg/transcribe"
)

// Defaults applied to a zero [Config].
const (
	DefaultBatchSize      = 3
	DefaultWorkers        = 2
	DefaultMaxUploadBytes = 512 << 20
	DefaultMaxFrameBytes  = 4 << 20
	DefaultWriteTimeout   = 10 * time.Second
)

// Config tunes a [Server]. Zero fields take defaults.
type Config struct {
	// BatchSize is the number of streamed chunks between two recognition
	// passes. Default: 3.
	BatchSize int

	// Workers bounds concurrent recognition passes. Default: 2.
	Workers int

	// DefaultLanguage is used when a request names none. Default: "en".
	DefaultLanguage string

	// MaxUploadBytes caps POST /transcribe bodies. Default: 512 MiB.
	MaxUploadBytes int64

	// MaxFrameBytes caps a single WebSocket message. Default: 4 MiB.
	MaxFrameBytes int64

	// SilenceThreshold skips recognition of streamed buffers whose RMS
	// energy (0..1) stays below it. Zero disables the check.
	SilenceThreshold float64

	// AllowedOrigins are the origin patterns accepted for /stream, see
	// websocket.AcceptOptions. Empty accepts same-host requests only.
	AllowedOrigins []string

	// WriteTimeout bounds each frame written to a stream. Default: 10s.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	c.BatchSize = cmp.Or(c.BatchSize, DefaultBatchSize)
	c.Workers = cmp.Or(c.Workers, DefaultWorkers)
	c.DefaultLanguage = cmp.Or(c.DefaultLanguage, transcribe.DefaultLanguage)
	c.MaxUploadBytes = cmp.Or(c.MaxUploadBytes, DefaultMaxUploadBytes)
	c.MaxFrameBytes = cmp.Or(c.MaxFrameBytes, DefaultMaxFrameBytes)
	c.WriteTimeout = cmp.Or(c.WriteTimeout, DefaultWriteTimeout)
	return c
}

// Option is a functional option for [New].
type Option func(*Server)

// WithDecoder replaces the upload decoder. Default: [FFmpegDecoder] using
// "ffmpeg" from PATH.
func WithDecoder(d Decoder) Option {
	return func(s *Server) { s.decoder = d }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVocabulary biases recognition towards the terms of v.
func WithVocabulary(v *vocab.Store) Option {
	return func(s *Server) { s.vocab = v }
}

// WithReadiness adds checks to /readyz.
func WithReadiness(checkers ...health.Checker) Option {
	return func(s *Server) { s.health.Add(checkers...) }
}

// WithMetricsEndpoint serves the Prometheus exposition on /metrics.
func WithMetricsEndpoint() Option {
	return func(s *Server) { s.serveMetrics = true }
}

// Server serves recognition over HTTP and WebSocket. It is safe for
// concurrent use.
type Server struct {
	rec          recognizer.Recognizer
	cfg          Config
	sem          *semaphore.Weighted
	decoder      Decoder
	metrics      *observe.Metrics
	vocab        *vocab.Store
	health       *health.Handler
	serveMetrics bool
}

// New returns a Server running rec.
func New(rec recognizer.Recognizer, cfg Config, opts ...Option) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		rec:     rec,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		decoder: FFmpegDecoder{Command: "ffmpeg"},
		health:  health.New(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	r.Get("/health", s.handleHealth)
	r.Post("/transcribe", s.handleTranscribe)
	r.Get("/stream", s.handleStream)

	s.health.Register(r)
	if s.serveMetrics {
		r.Handle("/metrics", observe.MetricsHandler())
	}
	return r
}

// ── /health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := s.rec.Info()
	writeJSON(w, http.StatusOK, transcribe.HealthStatus{
		Status: "ok",
		Model:  info.Model,
		Device: info.Device,
	})
}

// ── /transcribe ─────────────────────────────────────────────────────────────

type errorBody struct {
	Detail string `json:"detail"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Detail: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: err.Error()})
		return
	}
	language := cmp.Or(r.URL.Query().Get("language"), s.cfg.DefaultLanguage)

	log := observe.Logger(ctx)
	res, err := s.transcribeFile(ctx, data, language)
	if err != nil {
		log.Error("transcribe failed", "file", hdr.Filename, "bytes", len(data), "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: err.Error()})
		return
	}
	log.Info("transcribed upload", "file", hdr.Filename, "bytes", len(data),
		"language", res.Language, "duration", res.Duration, "segments", len(res.Segments))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) transcribeFile(ctx context.Context, data []byte, language string) (*transcribe.BatchResult, error) {
	pcm, err := s.decoder.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	res, err := s.recognize(ctx, pcm, language)
	if err != nil {
		return nil, err
	}

	out := &transcribe.BatchResult{
		Success:  true,
		Text:     strings.TrimSpace(res.Text),
		Language: cmp.Or(res.Language, language),
		Duration: cmp.Or(res.Duration, audio.Speech.Duration(len(pcm))).Seconds(),
		Segments: make([]transcribe.Segment, 0, len(res.Segments)),
	}
	for i, seg := range res.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, transcribe.Segment{
			ID:         cmp.Or(seg.ID, i),
			Start:      seg.Start.Seconds(),
			End:        seg.End.Seconds(),
			Text:       text,
			Confidence: seg.Confidence,
		})
	}
	if len(res.Segments) > 0 {
		out.Text = recognizer.JoinSegments(res.Segments)
	}
	return out, nil
}

// ── recognition ─────────────────────────────────────────────────────────────

// recognize runs one recognition pass on a worker slot.
func (s *Server) recognize(ctx context.Context, pcm []byte, language string) (_ *recognizer.Result, err error) {
	name := s.rec.Info().Name
	ctx, span := observe.StartRecognizeSpan(ctx, name, language, len(pcm))
	defer func() { observe.EndSpan(span, err) }()

	if err = s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	opts := recognizer.Options{Language: language}
	if s.vocab != nil && s.vocab.Len() > 0 {
		opts.Prompt = strings.Join(s.vocab.Words(), ", ")
	}

	start := time.Now()
	res, err := s.rec.Recognize(ctx, pcm, opts)
	s.metrics.RecognizeDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", name)))
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, name, "recognize", "error")
		s.metrics.RecordProviderError(ctx, name, "recognize")
		return nil, fmt.Errorf("recognize: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, name, "recognize", "ok")
	return res, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
