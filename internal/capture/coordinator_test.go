package capture_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/minutes/internal/capture"
	"github.com/MrWong99/minutes/internal/capture/mock"
)

// waitUntil polls cond until it holds or the timeout elapses.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestParseSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    capture.Source
		wantErr bool
	}{
		{"", capture.SourceMicrophone, false},
		{"microphone", capture.SourceMicrophone, false},
		{"system", capture.SourceSystem, false},
		{"both", capture.SourceBoth, false},
		{"speaker", "", true},
		{"MICROPHONE", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := capture.ParseSource(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSource(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSource(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCoordinator_StartStop(t *testing.T) {
	t.Parallel()

	wav := []byte("RIFF....WAVE")
	agent := &mock.Agent{
		OnStop: func(id string, rep capture.Reporter) { rep.Complete(id, wav) },
	}
	c := capture.NewCoordinator(agent, nil)

	id, err := c.RequestStart(t.Context(), capture.SourceBoth)
	if err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if got, ok := c.Active(); !ok || got != id {
		t.Fatalf("Active = %q, %v; want %q, true", got, ok, id)
	}
	starts := agent.Starts()
	if len(starts) != 1 || starts[0].RecordingID != id || starts[0].Source != capture.SourceBoth {
		t.Fatalf("StartCalls = %+v", starts)
	}

	got, err := c.RequestStop(t.Context())
	if err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	if string(got) != string(wav) {
		t.Errorf("audio = %q, want %q", got, wav)
	}
	if _, ok := c.Active(); ok {
		t.Error("recording still active after stop")
	}
	if stops := agent.Stops(); len(stops) != 1 || stops[0] != id {
		t.Errorf("StopCalls = %v", stops)
	}
}

func TestCoordinator_InvalidSource(t *testing.T) {
	t.Parallel()

	agent := &mock.Agent{}
	c := capture.NewCoordinator(agent, nil)
	if _, err := c.RequestStart(t.Context(), "speaker"); err == nil {
		t.Fatal("expected error for invalid source")
	}
	if len(agent.Starts()) != 0 {
		t.Error("agent called for invalid source")
	}
}

func TestCoordinator_AlreadyCapturing(t *testing.T) {
	t.Parallel()

	c := capture.NewCoordinator(&mock.Agent{}, nil)
	if _, err := c.RequestStart(t.Context(), capture.SourceMicrophone); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if _, err := c.RequestStart(t.Context(), capture.SourceMicrophone); !errors.Is(err, capture.ErrAlreadyCapturing) {
		t.Fatalf("second RequestStart err = %v, want ErrAlreadyCapturing", err)
	}
}

func TestCoordinator_StopWithoutStart(t *testing.T) {
	t.Parallel()

	c := capture.NewCoordinator(&mock.Agent{}, nil)
	if _, err := c.RequestStop(t.Context()); !errors.Is(err, capture.ErrNotCapturing) {
		t.Fatalf("err = %v, want ErrNotCapturing", err)
	}
}

func TestCoordinator_StartError(t *testing.T) {
	t.Parallel()

	agent := &mock.Agent{StartErr: errors.New("device busy")}
	c := capture.NewCoordinator(agent, nil)
	_, err := c.RequestStart(t.Context(), capture.SourceMicrophone)
	if err == nil || !strings.Contains(err.Error(), "device busy") {
		t.Fatalf("err = %v, want device busy", err)
	}
	if _, ok := c.Active(); ok {
		t.Error("failed start left an active recording")
	}
}

func TestCoordinator_StopTimeout(t *testing.T) {
	t.Parallel()

	agent := &mock.Agent{}
	c := capture.NewCoordinator(agent, nil, capture.WithStopTimeout(50*time.Millisecond))
	id, err := c.RequestStart(t.Context(), capture.SourceMicrophone)
	if err != nil {
		t.Fatalf("RequestStart: %v", err)
	}

	start := time.Now()
	_, err = c.RequestStop(t.Context())
	if !errors.Is(err, capture.ErrCaptureTimeout) {
		t.Fatalf("err = %v, want ErrCaptureTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("RequestStop took %s", elapsed)
	}

	// A late delivery must be dropped without effect.
	rep, _ := agent.Reporter()
	rep.Complete(id, []byte("late"))
	if _, ok := c.Active(); ok {
		t.Error("late completion revived the recording")
	}
}

func TestCoordinator_FirstOutcomeWins(t *testing.T) {
	t.Parallel()

	agent := &mock.Agent{
		OnStop: func(id string, rep capture.Reporter) {
			rep.Complete(id, []byte("first"))
			rep.Complete(id, []byte("second"))
			rep.Fail(id, "third")
		},
	}
	c := capture.NewCoordinator(agent, nil)
	if _, err := c.RequestStart(t.Context(), capture.SourceMicrophone); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	got, err := c.RequestStop(t.Context())
	if err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("audio = %q, want first", got)
	}
}

func TestCoordinator_StopError(t *testing.T) {
	t.Parallel()

	agent := &mock.Agent{StopErr: errors.New("pipe closed")}
	c := capture.NewCoordinator(agent, nil, capture.WithStopTimeout(5*time.Second))
	if _, err := c.RequestStart(t.Context(), capture.SourceMicrophone); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	start := time.Now()
	_, err := c.RequestStop(t.Context())
	if err == nil || !strings.Contains(err.Error(), "pipe closed") {
		t.Fatalf("err = %v, want pipe closed", err)
	}
	if time.Since(start) > time.Second {
		t.Error("stop error waited for the timeout")
	}
}

func TestCoordinator_EarlyFailure(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		failed []string
	)
	agent := &mock.Agent{}
	c := capture.NewCoordinator(agent, nil, capture.WithFailureHandler(func(id string, err error) {
		mu.Lock()
		failed = append(failed, id)
		mu.Unlock()
	}))

	id, err := c.RequestStart(t.Context(), capture.SourceSystem)
	if err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	rep, _ := agent.Reporter()
	rep.Fail(id, "device unplugged")

	mu.Lock()
	if len(failed) != 1 || failed[0] != id {
		t.Errorf("failure handler calls = %v", failed)
	}
	mu.Unlock()

	_, err = c.RequestStop(t.Context())
	if err == nil || !strings.Contains(err.Error(), "device unplugged") {
		t.Fatalf("RequestStop err = %v, want stored failure", err)
	}
	if len(agent.Stops()) != 0 {
		t.Error("StopCapture called for an already failed recording")
	}
}

func TestCoordinator_RestartAfterFailure(t *testing.T) {
	t.Parallel()

	agent := &mock.Agent{}
	c := capture.NewCoordinator(agent, nil)
	id, err := c.RequestStart(t.Context(), capture.SourceMicrophone)
	if err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	rep, _ := agent.Reporter()
	rep.Fail(id, "boom")

	id2, err := c.RequestStart(t.Context(), capture.SourceMicrophone)
	if err != nil {
		t.Fatalf("RequestStart after failure: %v", err)
	}
	if id2 == id {
		t.Error("recording ID reused")
	}
}

func TestCoordinator_ForwardsChunks(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Err: errors.New("not streaming")}
	agent := &mock.Agent{}
	c := capture.NewCoordinator(agent, sink)
	id, err := c.RequestStart(t.Context(), capture.SourceMicrophone)
	if err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	rep, _ := agent.Reporter()

	rep.Chunk(id, []byte{1, 2})
	rep.Chunk("other-recording", []byte{9, 9})
	rep.Chunk(id, []byte{3, 4})

	chunks := sink.Chunks()
	if len(chunks) != 2 {
		t.Fatalf("sink got %d chunks, want 2", len(chunks))
	}
	if chunks[0][0] != 1 || chunks[1][0] != 3 {
		t.Errorf("chunks out of order: %v", chunks)
	}

	// Chunks after the outcome are dropped.
	rep.Fail(id, "gone")
	rep.Chunk(id, []byte{5, 6})
	if n := len(sink.Chunks()); n != 2 {
		t.Errorf("sink got %d chunks after failure, want 2", n)
	}
}

func TestCoordinator_StopAbandonedByContext(t *testing.T) {
	t.Parallel()

	c := capture.NewCoordinator(&mock.Agent{}, nil, capture.WithStopTimeout(10*time.Second))
	if _, err := c.RequestStart(t.Context(), capture.SourceMicrophone); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.RequestStop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if _, ok := c.Active(); ok {
		t.Error("abandoned recording still active")
	}
}

func TestCoordinator_StopTimeoutCoversSlowAcknowledgement(t *testing.T) {
	t.Parallel()

	agent := &mock.Agent{StopDelay: 3 * time.Second}
	c := capture.NewCoordinator(agent, nil, capture.WithStopTimeout(100*time.Millisecond))
	if _, err := c.RequestStart(t.Context(), capture.SourceMicrophone); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}

	start := time.Now()
	_, err := c.RequestStop(t.Context())
	if !errors.Is(err, capture.ErrCaptureTimeout) {
		t.Fatalf("err = %v, want ErrCaptureTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("RequestStop took %s, want the 100ms stop timeout to include the acknowledgement", elapsed)
	}
	if _, ok := c.Active(); ok {
		t.Error("timed out recording still active")
	}
}
