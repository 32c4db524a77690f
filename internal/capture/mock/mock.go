// Package mock provides test doubles for the capture package.
//
// Agent records StartCapture and StopCapture calls and hands the Reporter
// back to the test, which then plays the capture side: pushing chunks and
// delivering the one-shot outcome. Sink records chunks forwarded by a
// Coordinator.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/minutes/internal/capture"
)

var (
	_ capture.Agent     = (*Agent)(nil)
	_ capture.ChunkSink = (*Sink)(nil)
	_ capture.Reporter  = (*Reporter)(nil)
)

// StartCall records a single invocation of StartCapture.
type StartCall struct {
	RecordingID string
	Source      capture.Source
}

// Agent is a mock implementation of capture.Agent.
type Agent struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned from StartCapture.
	StartErr error

	// StopErr, if non-nil, is returned from StopCapture.
	StopErr error

	// StopDelay makes StopCapture wait this long, or until ctx is done,
	// before acknowledging. It models a slow agent on the far side of a
	// socket.
	StopDelay time.Duration

	// OnStop, if set, runs synchronously inside StopCapture with the
	// reporter of the active recording. Use it to deliver the outcome.
	OnStop func(recordingID string, rep capture.Reporter)

	// StartCalls records every invocation of StartCapture in order.
	StartCalls []StartCall

	// StopCalls records the recording ID of every StopCapture call.
	StopCalls []string

	rep capture.Reporter
	id  string
}

// StartCapture implements capture.Agent.
func (a *Agent) StartCapture(_ context.Context, recordingID string, source capture.Source, rep capture.Reporter) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StartCalls = append(a.StartCalls, StartCall{RecordingID: recordingID, Source: source})
	if a.StartErr != nil {
		return a.StartErr
	}
	a.rep = rep
	a.id = recordingID
	return nil
}

// StopCapture implements capture.Agent.
func (a *Agent) StopCapture(ctx context.Context, recordingID string) error {
	a.mu.Lock()
	a.StopCalls = append(a.StopCalls, recordingID)
	err, onStop, rep, delay := a.StopErr, a.OnStop, a.rep, a.StopDelay
	a.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	if onStop != nil && rep != nil {
		onStop(recordingID, rep)
	}
	return nil
}

// Reporter returns the reporter and recording ID of the last successful
// StartCapture.
func (a *Agent) Reporter() (capture.Reporter, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rep, a.id
}

// Starts returns a copy of StartCalls.
func (a *Agent) Starts() []StartCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]StartCall, len(a.StartCalls))
	copy(out, a.StartCalls)
	return out
}

// Stops returns a copy of StopCalls.
func (a *Agent) Stops() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.StopCalls))
	copy(out, a.StopCalls)
	return out
}

// Sink is a mock implementation of capture.ChunkSink.
type Sink struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from SendAudio after recording the chunk.
	Err error

	chunks [][]byte
}

// SendAudio implements capture.ChunkSink.
func (s *Sink) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	return s.Err
}

// Chunks returns a copy of every chunk received.
func (s *Sink) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Outcome is a Complete or Fail delivery seen by Reporter.
type Outcome struct {
	RecordingID string
	Audio       []byte
	Error       string
}

// Reporter is a mock implementation of capture.Reporter that records every
// delivery. Outcomes are also pushed to a buffered channel.
type Reporter struct {
	mu       sync.Mutex
	chunks   [][]byte
	outcomes []Outcome
	ch       chan Outcome
}

// NewReporter returns a Reporter whose outcome channel buffers up to 16.
func NewReporter() *Reporter {
	return &Reporter{ch: make(chan Outcome, 16)}
}

// Chunk implements capture.Reporter.
func (r *Reporter) Chunk(_ string, pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, append([]byte(nil), pcm...))
}

// Complete implements capture.Reporter.
func (r *Reporter) Complete(recordingID string, wav []byte) {
	r.record(Outcome{RecordingID: recordingID, Audio: wav})
}

// Fail implements capture.Reporter.
func (r *Reporter) Fail(recordingID string, message string) {
	r.record(Outcome{RecordingID: recordingID, Error: message})
}

func (r *Reporter) record(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
	select {
	case r.ch <- o:
	default:
	}
}

// Outcomes returns the channel receiving every Complete or Fail.
func (r *Reporter) Outcomes() <-chan Outcome { return r.ch }

// Chunks returns a copy of every chunk received.
func (r *Reporter) Chunks() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.chunks))
	copy(out, r.chunks)
	return out
}
