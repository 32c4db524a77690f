package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStopTimeout bounds the wait for the agent's one-shot outcome.
const DefaultStopTimeout = 5 * time.Second

// Compile-time check that Coordinator is the Reporter handed to agents.
var _ Reporter = (*Coordinator)(nil)

// Option is a functional option for [NewCoordinator].
type Option func(*Coordinator)

// WithStopTimeout overrides [DefaultStopTimeout].
func WithStopTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.stopTimeout = d
		}
	}
}

// WithFailureHandler registers fn to be called when the agent fails a
// recording before a stop was requested, e.g. because the device vanished.
func WithFailureHandler(fn func(recordingID string, err error)) Option {
	return func(c *Coordinator) { c.onFailure = fn }
}

// Coordinator drives one [Agent] and holds at most one active recording.
// All methods are safe for concurrent use.
type Coordinator struct {
	agent       Agent
	sink        ChunkSink
	stopTimeout time.Duration
	onFailure   func(recordingID string, err error)

	mu     sync.Mutex
	active *recording
}

type recording struct {
	id        string
	source    Source
	startedAt time.Time
	chunks    int
	bytes     int
	stopping  bool

	done  chan struct{} // closed once audio/err are set
	audio []byte
	err   error
}

func (r *recording) resolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// NewCoordinator returns a coordinator forwarding live chunks to sink. A nil
// sink records without live transcription.
func NewCoordinator(agent Agent, sink ChunkSink, opts ...Option) *Coordinator {
	c := &Coordinator{
		agent:       agent,
		sink:        sink,
		stopTimeout: DefaultStopTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RequestStart asks the agent to begin recording source and returns the new
// recording's ID. A recording whose agent already failed is discarded.
func (c *Coordinator) RequestStart(ctx context.Context, source Source) (string, error) {
	if !source.Valid() {
		return "", fmt.Errorf("capture: invalid source %q", source)
	}

	c.mu.Lock()
	if prev := c.active; prev != nil {
		if !prev.resolved() || prev.stopping {
			c.mu.Unlock()
			return "", ErrAlreadyCapturing
		}
		slog.Debug("capture: discarding failed recording", "recording", prev.id)
	}
	rec := &recording{
		id:        uuid.NewString(),
		source:    source,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	c.active = rec
	c.mu.Unlock()

	if err := c.agent.StartCapture(ctx, rec.id, source, c); err != nil {
		c.release(rec)
		return "", fmt.Errorf("capture: start %s: %w", source, err)
	}
	slog.Info("capture: recording started", "recording", rec.id, "source", source)
	return rec.id, nil
}

// RequestStop asks the agent to stop and flush, then waits for the complete
// recording. It returns [ErrCaptureTimeout] if nothing arrives within the
// stop timeout. Concurrent callers share the first caller's outcome.
func (c *Coordinator) RequestStop(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	rec := c.active
	if rec == nil {
		c.mu.Unlock()
		return nil, ErrNotCapturing
	}
	first := !rec.stopping
	rec.stopping = true
	c.mu.Unlock()

	// The stop timeout covers the agent's acknowledgement as well as the
	// outcome.
	stopCtx, cancel := context.WithTimeout(ctx, c.stopTimeout)
	defer cancel()

	if first && !rec.resolved() {
		if err := c.agent.StopCapture(stopCtx, rec.id); err != nil && stopCtx.Err() == nil {
			c.resolve(rec, nil, fmt.Errorf("capture: stop: %w", err))
		}
	}

	select {
	case <-rec.done:
	case <-stopCtx.Done():
		if err := ctx.Err(); err != nil {
			c.resolve(rec, nil, fmt.Errorf("capture: stop abandoned: %w", err))
		} else if c.resolve(rec, nil, ErrCaptureTimeout) {
			slog.Warn("capture: no recording before stop timeout", "recording", rec.id, "timeout", c.stopTimeout)
		}
	}
	c.release(rec)

	if rec.err != nil {
		return nil, rec.err
	}
	slog.Info("capture: recording finished", "recording", rec.id, "chunks", rec.chunks,
		"bytes", len(rec.audio), "elapsed", time.Since(rec.startedAt))
	return rec.audio, nil
}

// Active returns the ID of the current recording, if any.
func (c *Coordinator) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.id, true
}

func (c *Coordinator) release(rec *recording) {
	c.mu.Lock()
	if c.active == rec {
		c.active = nil
	}
	c.mu.Unlock()
}

// resolve stores the outcome of rec if none was stored yet.
func (c *Coordinator) resolve(rec *recording, audio []byte, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.resolved() {
		return false
	}
	rec.audio, rec.err = audio, err
	close(rec.done)
	return true
}

// lookup returns the active recording if it matches id.
func (c *Coordinator) lookup(id string) *recording {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.id != id {
		return nil
	}
	return c.active
}

// ── Reporter ─────────────────────────────────────────────────────────────────

// Chunk implements [Reporter]. Chunks for unknown or finished recordings
// are dropped.
func (c *Coordinator) Chunk(recordingID string, pcm []byte) {
	c.mu.Lock()
	rec := c.active
	if rec == nil || rec.id != recordingID || rec.resolved() {
		c.mu.Unlock()
		slog.Debug("capture: dropping stale chunk", "recording", recordingID, "bytes", len(pcm))
		return
	}
	rec.chunks++
	rec.bytes += len(pcm)
	sink := c.sink
	c.mu.Unlock()

	if sink == nil {
		return
	}
	if err := sink.SendAudio(pcm); err != nil {
		slog.Debug("capture: sink rejected chunk", "recording", recordingID, "err", err)
	}
}

// Complete implements [Reporter]. Only the first outcome per recording is kept.
func (c *Coordinator) Complete(recordingID string, wav []byte) {
	rec := c.lookup(recordingID)
	if rec == nil {
		slog.Warn("capture: dropping unsolicited recording", "recording", recordingID, "bytes", len(wav))
		return
	}
	if !c.resolve(rec, wav, nil) {
		slog.Warn("capture: dropping duplicate recording", "recording", recordingID)
	}
}

// Fail implements [Reporter]. A failure before stop was requested is kept
// for the next [Coordinator.RequestStop] and reported to the failure handler.
func (c *Coordinator) Fail(recordingID string, message string) {
	rec := c.lookup(recordingID)
	if rec == nil {
		slog.Warn("capture: dropping unsolicited failure", "recording", recordingID, "message", message)
		return
	}
	err := errors.New("capture: agent failed: " + message)
	if !c.resolve(rec, nil, err) {
		slog.Warn("capture: dropping duplicate failure", "recording", recordingID, "message", message)
		return
	}

	c.mu.Lock()
	early := !rec.stopping
	c.mu.Unlock()
	if early {
		slog.Warn("capture: recording failed", "recording", recordingID, "message", message)
		if c.onFailure != nil {
			c.onFailure(recordingID, err)
		}
	}
}
