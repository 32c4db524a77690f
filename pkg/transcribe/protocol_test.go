package transcribe_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/minutes/pkg/transcribe"
)

func TestEncode_WireShapes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		frame transcribe.Frame
		want  string
	}{
		{"config", transcribe.ConfigFrame("en"), `{"type":"config","language":"en"}`},
		{"audio", transcribe.AudioFrame([]byte("hi")), `{"type":"audio","data":"aGk="}`},
		{"stop", transcribe.StopFrame(), `{"type":"stop"}`},
		{"ready", transcribe.ReadyFrame(), `{"type":"ready"}`},
		{"transcript", transcribe.TranscriptFrame("Hello world"), `{"type":"transcript","text":"Hello world"}`},
		{"done", transcribe.DoneFrame(), `{"type":"done"}`},
		{"error", transcribe.ErrorFrame("boom"), `{"type":"error","message":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := transcribe.Encode(tt.frame)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Encode = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncode_MissingTypeFails(t *testing.T) {
	t.Parallel()
	if _, err := transcribe.Encode(transcribe.Frame{Text: "x"}); !errors.Is(err, transcribe.ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    transcribe.Frame
		wantErr bool
	}{
		{name: "transcript", in: `{"type":"transcript","text":"abc"}`, want: transcribe.TranscriptFrame("abc")},
		{name: "extra fields ignored", in: `{"type":"ready","model":"base"}`, want: transcribe.ReadyFrame()},
		{name: "not json", in: `hello`, wantErr: true},
		{name: "array", in: `[1,2]`, wantErr: true},
		{name: "missing type", in: `{"text":"abc"}`, wantErr: true},
		{name: "wrong field type", in: `{"type":"transcript","text":5}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := transcribe.Decode([]byte(tt.in))
			if tt.wantErr {
				if !errors.Is(err, transcribe.ErrMalformedFrame) {
					t.Errorf("err = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFrameAudio(t *testing.T) {
	t.Parallel()

	payload := []byte{0x00, 0xff, 0x10, 0x80}
	b, err := transcribe.AudioFrame(payload).Audio()
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if string(b) != string(payload) {
		t.Errorf("Audio = %v, want %v", b, payload)
	}

	if _, err := (transcribe.Frame{Type: transcribe.FrameAudio, Data: "!!!"}).Audio(); !errors.Is(err, transcribe.ErrMalformedFrame) {
		t.Errorf("bad base64 err = %v", err)
	}
	if _, err := transcribe.StopFrame().Audio(); !errors.Is(err, transcribe.ErrMalformedFrame) {
		t.Errorf("non-audio frame err = %v", err)
	}
}
