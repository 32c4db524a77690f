package transcribe

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType is the tag carried in the "type" field of every protocol frame.
type FrameType string

// Client → server frame types.
const (
	FrameConfig FrameType = "config"
	FrameAudio  FrameType = "audio"
	FrameStop   FrameType = "stop"
)

// Server → client frame types.
const (
	FrameReady      FrameType = "ready"
	FrameTranscript FrameType = "transcript"
	FrameDone       FrameType = "done"
	FrameError      FrameType = "error"
)

// ErrMalformedFrame is returned by [Decode] when a message is not a valid
// protocol frame.
var ErrMalformedFrame = errors.New("transcribe: malformed frame")

// Frame is one JSON message exchanged over a [Link]. Only the fields that
// belong to Type are populated; the rest are omitted on the wire.
//
// Audio payloads travel base64-encoded in Data. Use [AudioFrame] and
// [Frame.Audio] rather than touching Data directly.
type Frame struct {
	Type     FrameType `json:"type"`
	Language string    `json:"language,omitempty"`
	Data     string    `json:"data,omitempty"`
	Text     string    `json:"text,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// ConfigFrame returns the frame sent once right after connecting.
func ConfigFrame(language string) Frame {
	return Frame{Type: FrameConfig, Language: language}
}

// AudioFrame wraps one chunk of raw audio.
func AudioFrame(chunk []byte) Frame {
	return Frame{Type: FrameAudio, Data: base64.StdEncoding.EncodeToString(chunk)}
}

// StopFrame returns the frame that ends a session.
func StopFrame() Frame { return Frame{Type: FrameStop} }

// ReadyFrame returns the server's handshake acknowledgement.
func ReadyFrame() Frame { return Frame{Type: FrameReady} }

// TranscriptFrame carries the cumulative transcript text.
func TranscriptFrame(text string) Frame {
	return Frame{Type: FrameTranscript, Text: text}
}

// DoneFrame returns the final acknowledgement after a stop.
func DoneFrame() Frame { return Frame{Type: FrameDone} }

// ErrorFrame carries a human-readable, non-terminal error message.
func ErrorFrame(message string) Frame {
	return Frame{Type: FrameError, Message: message}
}

// Audio decodes the base64 payload of an audio frame.
func (f Frame) Audio() ([]byte, error) {
	if f.Type != FrameAudio {
		return nil, fmt.Errorf("%w: %q frame has no audio payload", ErrMalformedFrame, f.Type)
	}
	b, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: audio payload: %v", ErrMalformedFrame, err)
	}
	return b, nil
}

// Encode marshals f to its JSON wire form.
func Encode(f Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("transcribe: encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// Decode parses one wire message. A message that is not a JSON object or
// lacks a type tag yields an error wrapping [ErrMalformedFrame].
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}
