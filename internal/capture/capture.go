// Package capture connects the side that records meeting audio with the
// side that owns the transcription session.
//
// A [Coordinator] asks an [Agent] to start and stop recording. While
// recording, the agent pushes roughly one-second PCM chunks through a
// [Reporter]; the coordinator forwards them to a [ChunkSink] (usually a
// transcribe.Client). On stop the agent flushes and delivers the complete
// recording exactly once, or an error. Agents run in-process
// ([FFmpegAgent]) or in a separate capture process reached over a unix
// socket ([SocketBridge] and [SocketAgentClient]).
package capture

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCaptureTimeout is returned by [Coordinator.RequestStop] when the
	// agent delivers neither the recording nor an error in time.
	ErrCaptureTimeout = errors.New("capture: timed out waiting for recording")

	// ErrNotCapturing is returned when stopping while no recording is active.
	ErrNotCapturing = errors.New("capture: no active recording")

	// ErrAlreadyCapturing is returned when starting while a recording is active.
	ErrAlreadyCapturing = errors.New("capture: recording already active")

	// ErrNoAgent is returned by [SocketBridge] when no capture process is connected.
	ErrNoAgent = errors.New("capture: no capture agent connected")
)

// Source selects which audio the agent records.
type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceSystem     Source = "system"
	SourceBoth       Source = "both"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceMicrophone, SourceSystem, SourceBoth:
		return true
	}
	return false
}

// ParseSource validates a source selector. An empty string selects the
// microphone.
func ParseSource(s string) (Source, error) {
	if s == "" {
		return SourceMicrophone, nil
	}
	src := Source(s)
	if !src.Valid() {
		return "", fmt.Errorf("capture: invalid source %q (want microphone, system or both)", s)
	}
	return src, nil
}

// Action is the verb of a [Request].
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Request asks the capture side to start or stop a recording.
type Request struct {
	Action      Action `json:"action"`
	RecordingID string `json:"recordingId"`
	Source      Source `json:"source,omitempty"`
}

// Response is the one-shot outcome of a recording: the complete audio as a
// WAV file, or an error message.
type Response struct {
	RecordingID string `json:"recordingId"`
	Audio       []byte `json:"audio,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Reporter receives audio and outcomes from an [Agent]. Every call carries
// the recording it belongs to so stale deliveries can be recognised.
type Reporter interface {
	// Chunk delivers one live PCM16LE mono 16 kHz chunk.
	Chunk(recordingID string, pcm []byte)

	// Complete delivers the full recording after a stop.
	Complete(recordingID string, wav []byte)

	// Fail reports that the recording could not be produced.
	Fail(recordingID string, message string)
}

// Agent owns the audio devices. StartCapture must return once recording
// is underway; StopCapture must return once the stop was initiated. The
// outcome arrives later through the [Reporter].
type Agent interface {
	StartCapture(ctx context.Context, recordingID string, source Source, rep Reporter) error
	StopCapture(ctx context.Context, recordingID string) error
}

// ChunkSink consumes live chunks. *transcribe.Client satisfies it.
type ChunkSink interface {
	SendAudio(chunk []byte) error
}
