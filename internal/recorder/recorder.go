// Package recorder runs one meeting recording end to end.
//
// Start probes the transcription server, opens a live transcription
// session, asks the capture agent to record and marks the meeting as
// recording. Stop reverses that order, then turns the complete recording
// into the final transcript: batch transcription of the WAV (falling back
// to the live transcript), vocabulary correction, timed segments, the WAV
// on disk and the semantic index.
//
// At most one recording is active per [Recorder].
package recorder

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/minutes/internal/capture"
	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/internal/transcript"
	"github.com/MrWong99/minutes/pkg/store"
	"github.com/MrWong99/minutes/pkg/transcribe"
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is active.
	ErrAlreadyRecording = errors.New("recorder: a recording is already active")

	// ErrNotRecording is returned by Stop without an active recording.
	ErrNotRecording = errors.New("recorder: no active recording")

	// ErrServerUnavailable is returned by Start when the transcription
	// server does not answer its health probe.
	ErrServerUnavailable = errors.New("recorder: transcription server unavailable")

	// ErrNoTranscript is returned when neither the recording nor the live
	// session produced any text.
	ErrNoTranscript = errors.New("recorder: no transcript")
)

// ── Collaborators ───────────────────────────────────────────────────────────

// Prober reports whether the transcription server is up.
// *transcribe.HTTPClient satisfies it.
type Prober interface {
	Available(ctx context.Context) bool
}

// Streamer is the live transcription session. *transcribe.Client
// satisfies it.
type Streamer interface {
	Start(ctx context.Context, language string) bool
	Stop(ctx context.Context)
	OnTranscript(fn func(transcribe.TranscriptEvent)) (unsubscribe func())
	OnError(fn func(transcribe.ErrorEvent)) (unsubscribe func())
}

// Capturer starts and stops the audio capture. *capture.Coordinator
// satisfies it.
type Capturer interface {
	RequestStart(ctx context.Context, source capture.Source) (string, error)
	RequestStop(ctx context.Context) ([]byte, error)
}

// BatchTranscriber transcribes a complete audio file.
// *transcribe.HTTPClient satisfies it.
type BatchTranscriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader, language string) (*transcribe.BatchResult, error)
}

// Corrector fixes vocabulary in a final transcript. *transcript.Corrector
// satisfies it.
type Corrector interface {
	Correct(ctx context.Context, text string, spans []transcript.Span) (*transcript.Result, error)
}

// Indexer embeds a transcript for retrieval. *notes.Indexer satisfies it.
type Indexer interface {
	Index(ctx context.Context, meetingID, transcript string) (int, error)
}

// Store is the persistence the recorder writes to.
type Store interface {
	store.MeetingStore
	store.SegmentStore
}

// Config holds the dependencies of a [Recorder]. Streamer, Capturer and
// Store are required; every other field is optional.
type Config struct {
	Prober    Prober
	Streamer  Streamer
	Capturer  Capturer
	Batch     BatchTranscriber
	Corrector Corrector
	Indexer   Indexer
	Store     Store
	Metrics   *observe.Metrics

	// AudioDir keeps a copy of every recording as <meeting id>.wav. Empty
	// discards the audio after transcription.
	AudioDir string

	// Language is used when Start is called without one. Default: "en".
	Language string
}

// Recorder holds the single active recording. All methods are safe for
// concurrent use.
type Recorder struct {
	cfg Config

	mu          sync.Mutex
	active      *store.Meeting
	recordingID string
	unsubscribe []func()

	liveMu sync.Mutex
	live   string
}

// New returns a Recorder. It fails when a required dependency is missing.
func New(cfg Config) (*Recorder, error) {
	switch {
	case cfg.Streamer == nil:
		return nil, errors.New("recorder: streamer is required")
	case cfg.Capturer == nil:
		return nil, errors.New("recorder: capturer is required")
	case cfg.Store == nil:
		return nil, errors.New("recorder: store is required")
	}
	cfg.Language = cmp.Or(cfg.Language, transcribe.DefaultLanguage)
	return &Recorder{cfg: cfg}, nil
}

// Start begins recording source into the meeting meetingID. An empty ID
// creates a new meeting; an unknown ID creates a meeting with that ID.
// An empty language selects the configured default.
func (r *Recorder) Start(ctx context.Context, meetingID, language string, source capture.Source) (*store.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, fmt.Errorf("%w (meeting %s)", ErrAlreadyRecording, r.active.ID)
	}
	language = cmp.Or(language, r.cfg.Language)

	m, existing, err := r.lookup(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	if r.cfg.Prober != nil && !r.cfg.Prober.Available(ctx) {
		return nil, ErrServerUnavailable
	}

	r.setLive("")
	unsubs := []func(){
		r.cfg.Streamer.OnTranscript(func(ev transcribe.TranscriptEvent) { r.setLive(ev.Text) }),
		r.cfg.Streamer.OnError(func(ev transcribe.ErrorEvent) {
			if ev.Fatal {
				slog.Warn("recorder: live transcription lost, recording continues", "session", ev.SessionID, "err", ev.Message)
				return
			}
			slog.Warn("recorder: transcription server error", "session", ev.SessionID, "err", ev.Message)
		}),
	}
	release := func() {
		for i := len(unsubs) - 1; i >= 0; i-- {
			unsubs[i]()
		}
	}

	if !r.cfg.Streamer.Start(ctx, language) {
		release()
		return nil, errors.New("recorder: live transcription session did not start")
	}

	recID, err := r.cfg.Capturer.RequestStart(ctx, source)
	if err != nil {
		r.cfg.Streamer.Stop(ctx)
		release()
		return nil, fmt.Errorf("recorder: start capture: %w", err)
	}

	now := time.Now().UTC()
	m.Language = language
	m.Source = string(source)
	m.State = store.MeetingRecording
	m.StartedAt = now
	m.EndedAt = time.Time{}
	if existing {
		err = r.cfg.Store.UpdateMeeting(ctx, m)
	} else {
		err = r.cfg.Store.CreateMeeting(ctx, m)
	}
	if err != nil {
		if _, stopErr := r.cfg.Capturer.RequestStop(ctx); stopErr != nil {
			slog.Warn("recorder: discard capture", "recording", recID, "err", stopErr)
		}
		r.cfg.Streamer.Stop(ctx)
		release()
		return nil, fmt.Errorf("recorder: save meeting: %w", err)
	}

	r.active = m
	r.recordingID = recID
	r.unsubscribe = unsubs
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ActiveRecordings.Add(ctx, 1)
	}

	slog.Info("recorder: recording started", "meeting", m.ID, "recording", recID,
		"language", language, "source", source)
	cp := *m
	return &cp, nil
}

// lookup returns the meeting to record into and whether it already exists.
func (r *Recorder) lookup(ctx context.Context, id string) (*store.Meeting, bool, error) {
	if id == "" {
		return &store.Meeting{}, false, nil
	}
	m, err := r.cfg.Store.GetMeeting(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &store.Meeting{ID: id}, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("recorder: load meeting %s: %w", id, err)
	}
	if m.State == store.MeetingRecording || m.State == store.MeetingProcessing {
		return nil, false, fmt.Errorf("recorder: meeting %s is %s", id, m.State)
	}
	return m, true, nil
}

// Stop ends the active recording and returns the finished meeting. The
// meeting is returned together with the error when post-processing
// failed; its State is then [store.MeetingFailed].
func (r *Recorder) Stop(ctx context.Context) (*store.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.active
	if m == nil {
		return nil, ErrNotRecording
	}
	defer func() {
		for i := len(r.unsubscribe) - 1; i >= 0; i-- {
			r.unsubscribe[i]()
		}
		r.active, r.recordingID, r.unsubscribe = nil, "", nil
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.ActiveRecordings.Add(ctx, -1)
		}
	}()

	wav, capErr := r.cfg.Capturer.RequestStop(ctx)
	if capErr != nil {
		slog.Warn("recorder: capture failed", "meeting", m.ID, "recording", r.recordingID, "err", capErr)
	}
	r.cfg.Streamer.Stop(ctx)

	m.EndedAt = time.Now().UTC()
	m.State = store.MeetingProcessing
	if err := r.cfg.Store.UpdateMeeting(ctx, m); err != nil {
		slog.Warn("recorder: mark meeting processing", "meeting", m.ID, "err", err)
	}

	err := r.finish(ctx, m, wav, r.Live())
	if err != nil && capErr != nil {
		err = fmt.Errorf("%w (capture: %w)", err, capErr)
	}
	cp := *m
	return &cp, err
}

// Live returns the cumulative live transcript of the current (or most
// recent) recording.
func (r *Recorder) Live() string {
	r.liveMu.Lock()
	defer r.liveMu.Unlock()
	return r.live
}

// Active returns a copy of the meeting being recorded, if any.
func (r *Recorder) Active() (*store.Meeting, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, false
	}
	cp := *r.active
	return &cp, true
}

// SetLanguage changes the default language of later recordings.
func (r *Recorder) SetLanguage(language string) {
	if language == "" {
		return
	}
	r.mu.Lock()
	r.cfg.Language = language
	r.mu.Unlock()
}

func (r *Recorder) language() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Language
}

func (r *Recorder) setLive(text string) {
	r.liveMu.Lock()
	r.live = text
	r.liveMu.Unlock()
}

// TranscribeFile creates a meeting from an existing audio file. The file is
// batch-transcribed, corrected and indexed like a finished recording.
func (r *Recorder) TranscribeFile(ctx context.Context, title, filename string, data []byte, language string) (*store.Meeting, error) {
	if r.cfg.Batch == nil {
		return nil, errors.New("recorder: batch transcription is not configured")
	}
	now := time.Now().UTC()
	m := &store.Meeting{
		Title:     cmp.Or(title, filepath.Base(filename)),
		Language:  cmp.Or(language, r.language()),
		Source:    "file",
		State:     store.MeetingProcessing,
		StartedAt: now,
	}
	if err := r.cfg.Store.CreateMeeting(ctx, m); err != nil {
		return nil, fmt.Errorf("recorder: save meeting: %w", err)
	}
	err := r.process(ctx, m, filename, data, "")
	return m, err
}

// finish turns a stopped recording into the final transcript.
func (r *Recorder) finish(ctx context.Context, m *store.Meeting, wav []byte, live string) error {
	return r.process(ctx, m, m.ID+".wav", wav, live)
}

// process produces, corrects and persists the transcript of m. On failure
// m is marked failed.
func (r *Recorder) process(ctx context.Context, m *store.Meeting, filename string, data []byte, live string) error {
	text, segments := r.transcribe(ctx, m, filename, data, live)
	if text == "" {
		return r.fail(ctx, m, ErrNoTranscript)
	}

	if len(data) > 0 && r.cfg.AudioDir != "" {
		path, err := r.saveAudio(m.ID, filename, data)
		if err != nil {
			slog.Warn("recorder: keep audio", "meeting", m.ID, "err", err)
		} else {
			m.AudioPath = path
		}
	}

	if r.cfg.Corrector != nil {
		spans := make([]transcript.Span, 0, len(segments))
		for _, s := range segments {
			spans = append(spans, transcript.Span{Text: s.Text, Confidence: s.Confidence})
		}
		res, err := r.cfg.Corrector.Correct(ctx, text, spans)
		switch {
		case err != nil:
			slog.Warn("recorder: transcript correction failed, keeping raw text", "meeting", m.ID, "err", err)
		case res.Changed():
			r.countCorrections(ctx, res.Corrections)
			slog.Info("recorder: transcript corrected", "meeting", m.ID, "corrections", len(res.Corrections))
			text = res.Text
		}
	}

	if len(segments) > 0 {
		if err := r.cfg.Store.ReplaceSegments(ctx, m.ID, segments); err != nil {
			return r.fail(ctx, m, fmt.Errorf("recorder: save segments: %w", err))
		}
	}

	m.Transcript = text
	m.State = store.MeetingDone
	if m.EndedAt.IsZero() {
		m.EndedAt = time.Now().UTC()
	}
	if err := r.cfg.Store.UpdateMeeting(ctx, m); err != nil {
		return fmt.Errorf("recorder: save meeting: %w", err)
	}

	if r.cfg.Indexer != nil {
		n, err := r.cfg.Indexer.Index(ctx, m.ID, text)
		if err != nil {
			slog.Warn("recorder: index transcript", "meeting", m.ID, "err", err)
		} else {
			slog.Debug("recorder: transcript indexed", "meeting", m.ID, "chunks", n)
		}
	}

	slog.Info("recorder: meeting finished", "meeting", m.ID, "words", len(bytes.Fields([]byte(text))),
		"segments", len(segments), "duration", m.Duration())
	return nil
}

// transcribe prefers a batch transcription of the full recording and
// falls back to the live transcript.
func (r *Recorder) transcribe(ctx context.Context, m *store.Meeting, filename string, data []byte, live string) (string, []store.Segment) {
	if len(data) == 0 || r.cfg.Batch == nil {
		return live, nil
	}
	res, err := r.cfg.Batch.Transcribe(ctx, filename, bytes.NewReader(data), m.Language)
	if err != nil {
		slog.Warn("recorder: batch transcription failed, using live transcript", "meeting", m.ID, "err", err)
		return live, nil
	}
	if res.Text == "" {
		return live, nil
	}
	if res.Duration > 0 && m.EndedAt.IsZero() {
		m.EndedAt = m.StartedAt.Add(seconds(res.Duration))
	}
	segments := make([]store.Segment, 0, len(res.Segments))
	for i, s := range res.Segments {
		segments = append(segments, store.Segment{
			MeetingID:  m.ID,
			Index:      i,
			Start:      seconds(s.Start),
			End:        seconds(s.End),
			Text:       s.Text,
			Confidence: s.Confidence,
		})
	}
	return res.Text, segments
}

func (r *Recorder) saveAudio(meetingID, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(r.cfg.AudioDir, 0o755); err != nil {
		return "", err
	}
	ext := cmp.Or(filepath.Ext(filename), ".wav")
	path := filepath.Join(r.cfg.AudioDir, meetingID+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (r *Recorder) fail(ctx context.Context, m *store.Meeting, cause error) error {
	m.State = store.MeetingFailed
	if err := r.cfg.Store.UpdateMeeting(ctx, m); err != nil {
		slog.Warn("recorder: mark meeting failed", "meeting", m.ID, "err", err)
	}
	slog.Error("recorder: meeting failed", "meeting", m.ID, "err", cause)
	return cause
}

func (r *Recorder) countCorrections(ctx context.Context, cs []transcript.Correction) {
	if r.cfg.Metrics == nil {
		return
	}
	byMethod := make(map[transcript.Method]int)
	for _, c := range cs {
		byMethod[c.Method]++
	}
	for method, n := range byMethod {
		r.cfg.Metrics.RecordCorrections(ctx, string(method), n)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
