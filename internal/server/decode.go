package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/MrWong99/minutes/pkg/audio"
)

// ErrUndecodable is returned when uploaded audio cannot be turned into PCM.
var ErrUndecodable = errors.New("server: audio could not be decoded")

// Decoder turns an uploaded audio file into 16 kHz mono PCM16LE.
type Decoder interface {
	Decode(ctx context.Context, data []byte) ([]byte, error)
}

// FFmpegDecoder decodes 16-bit PCM WAV files in process and pipes every
// other container (MP3, WebM, M4A, ...) through ffmpeg.
type FFmpegDecoder struct {
	// Command is the ffmpeg executable. Empty disables the fallback, leaving
	// WAV as the only accepted format.
	Command string
}

var _ Decoder = FFmpegDecoder{}

// Decode implements [Decoder].
func (d FFmpegDecoder) Decode(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUndecodable)
	}
	if audio.IsWAV(data) {
		pcm, f, err := audio.DecodeWAV(data)
		if err == nil {
			return audio.Convert(pcm, f, audio.Speech)
		}
		if d.Command == "" {
			return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
		// Float and 24-bit WAV files go through ffmpeg below.
	}
	if d.Command == "" {
		return nil, fmt.Errorf("%w: only PCM16 WAV is supported without ffmpeg", ErrUndecodable)
	}

	cmd := exec.CommandContext(ctx, d.Command,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ac", "1", "-ar", "16000",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: ffmpeg: %s", ErrUndecodable, msg)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: no audio stream", ErrUndecodable)
	}
	return stdout.Bytes(), nil
}
