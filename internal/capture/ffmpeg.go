package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/minutes/pkg/audio"
)

const (
	defaultStartGrace = 250 * time.Millisecond
	defaultKillAfter  = 1200 * time.Millisecond
	readBufferSize    = 4096
)

var _ Agent = (*FFmpegAgent)(nil)

// DefaultInputs are PulseAudio input arguments per source. "both" mixes the
// default microphone with the monitor of the default sink.
var DefaultInputs = map[Source][]string{
	SourceMicrophone: {"-f", "pulse", "-i", "default"},
	SourceSystem:     {"-f", "pulse", "-i", "@DEFAULT_MONITOR@"},
	SourceBoth: {
		"-f", "pulse", "-i", "default",
		"-f", "pulse", "-i", "@DEFAULT_MONITOR@",
		"-filter_complex", "amix=inputs=2:duration=longest",
	},
}

// FFmpegOption is a functional option for [NewFFmpegAgent].
type FFmpegOption func(*FFmpegAgent)

// WithFFmpegCommand sets the ffmpeg binary. Defaults to "ffmpeg" on PATH.
func WithFFmpegCommand(path string) FFmpegOption {
	return func(a *FFmpegAgent) {
		if path != "" {
			a.command = path
		}
	}
}

// WithInputArgs replaces the ffmpeg input arguments used for source.
func WithInputArgs(source Source, args ...string) FFmpegOption {
	return func(a *FFmpegAgent) { a.inputs[source] = args }
}

// WithChunkDuration sets the live chunk length. Defaults to one second.
func WithChunkDuration(d time.Duration) FFmpegOption {
	return func(a *FFmpegAgent) {
		if d > 0 {
			a.chunk = d
		}
	}
}

// WithStartGrace sets how long ffmpeg must survive before StartCapture
// reports success. Defaults to 250ms.
func WithStartGrace(d time.Duration) FFmpegOption {
	return func(a *FFmpegAgent) {
		if d > 0 {
			a.startGrace = d
		}
	}
}

// FFmpegAgent records audio with an ffmpeg child process writing 16 kHz
// mono s16le PCM to stdout. It keeps the whole recording in memory and
// delivers it as a WAV file on stop.
type FFmpegAgent struct {
	command    string
	inputs     map[Source][]string
	chunk      time.Duration
	startGrace time.Duration
	killAfter  time.Duration

	mu       sync.Mutex
	rec      *ffmpegRecording
	starting bool
}

// NewFFmpegAgent returns an agent using [DefaultInputs].
func NewFFmpegAgent(opts ...FFmpegOption) *FFmpegAgent {
	a := &FFmpegAgent{
		command:    "ffmpeg",
		inputs:     make(map[Source][]string, len(DefaultInputs)),
		chunk:      time.Second,
		startGrace: defaultStartGrace,
		killAfter:  defaultKillAfter,
	}
	for src, args := range DefaultInputs {
		a.inputs[src] = args
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Args returns the full ffmpeg argument list for source.
func (a *FFmpegAgent) Args(source Source) []string {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}
	args = append(args, a.inputs[source]...)
	return append(args,
		"-ac", strconv.Itoa(audio.Speech.Channels),
		"-ar", strconv.Itoa(audio.Speech.SampleRate),
		"-f", "s16le",
		"-",
	)
}

// StartCapture launches ffmpeg and returns once it survived the start grace
// period. The process is not bound to ctx; it runs until StopCapture.
func (a *FFmpegAgent) StartCapture(ctx context.Context, recordingID string, source Source, rep Reporter) error {
	if _, ok := a.inputs[source]; !ok {
		return fmt.Errorf("ffmpeg: no input configured for source %q", source)
	}

	a.mu.Lock()
	if a.rec != nil || a.starting {
		a.mu.Unlock()
		return ErrAlreadyCapturing
	}
	a.starting = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.starting = false
		a.mu.Unlock()
	}()

	cmd := exec.Command(a.command, a.Args(source)...)
	rec := &ffmpegRecording{
		id:      recordingID,
		rep:     rep,
		cmd:     cmd,
		chunker: audio.NewChunker(audio.Speech, a.chunk),
		exited:  make(chan struct{}),
	}
	cmd.Stderr = &rec.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: start: %w", err)
	}
	go rec.pump(stdout)

	select {
	case <-rec.exited:
		if rec.waitErr != nil {
			return fmt.Errorf("ffmpeg: exited before capture started: %w: %s", rec.waitErr, rec.stderrText())
		}
		return errors.New("ffmpeg: exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-rec.exited
		return fmt.Errorf("ffmpeg: start: %w", ctx.Err())
	case <-time.After(a.startGrace):
	}

	a.mu.Lock()
	a.rec = rec
	a.mu.Unlock()

	go a.report(rec)
	slog.Debug("ffmpeg: capture running", "recording", recordingID, "source", source, "pid", cmd.Process.Pid)
	return nil
}

// StopCapture interrupts ffmpeg so it flushes and exits, killing it if it
// does not exit within 1.2s. The recording arrives through the Reporter.
func (a *FFmpegAgent) StopCapture(_ context.Context, recordingID string) error {
	a.mu.Lock()
	rec := a.rec
	a.mu.Unlock()
	if rec == nil || rec.id != recordingID {
		return ErrNotCapturing
	}
	if !rec.stopping.CompareAndSwap(false, true) {
		return nil
	}

	_ = rec.cmd.Process.Signal(os.Interrupt)
	go func() {
		select {
		case <-rec.exited:
		case <-time.After(a.killAfter):
			slog.Warn("ffmpeg: did not exit after interrupt, killing", "recording", recordingID)
			_ = rec.cmd.Process.Kill()
		}
	}()
	return nil
}

// report waits for ffmpeg to exit and delivers the outcome.
func (a *FFmpegAgent) report(rec *ffmpegRecording) {
	<-rec.exited

	a.mu.Lock()
	if a.rec == rec {
		a.rec = nil
	}
	a.mu.Unlock()

	if !rec.stopping.Load() {
		msg := "ffmpeg exited unexpectedly"
		if rec.waitErr != nil {
			msg += ": " + rec.waitErr.Error()
		}
		if s := rec.stderrText(); s != "" {
			msg += ": " + s
		}
		rec.rep.Fail(rec.id, msg)
		return
	}
	if err := normalizeStopErr(rec.waitErr); err != nil {
		rec.rep.Fail(rec.id, fmt.Sprintf("ffmpeg: %v: %s", err, rec.stderrText()))
		return
	}
	rec.rep.Complete(rec.id, audio.EncodeWAV(rec.pcm.Bytes(), audio.Speech))
}

type ffmpegRecording struct {
	id       string
	rep      Reporter
	cmd      *exec.Cmd
	chunker  *audio.Chunker
	stderr   bytes.Buffer
	stopping atomic.Bool

	pcm     bytes.Buffer // owned by pump until exited is closed
	waitErr error
	exited  chan struct{}
}

// pump reads PCM until EOF, forwards full chunks, flushes the remainder
// and reaps the process.
func (r *ffmpegRecording) pump(stdout io.Reader) {
	defer close(r.exited)

	buf := make([]byte, readBufferSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			r.pcm.Write(buf[:n])
			for _, chunk := range r.chunker.Write(buf[:n]) {
				r.rep.Chunk(r.id, chunk)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("ffmpeg: stdout read ended", "recording", r.id, "err", err)
			}
			break
		}
	}
	if rest := r.chunker.Flush(); rest != nil {
		r.rep.Chunk(r.id, rest)
	}
	r.waitErr = r.cmd.Wait()
}

func (r *ffmpegRecording) stderrText() string {
	return string(bytes.TrimSpace(r.stderr.Bytes()))
}

// normalizeStopErr ignores the non-zero exit status ffmpeg reports after
// an interrupt or kill.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
