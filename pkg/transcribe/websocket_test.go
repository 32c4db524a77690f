package transcribe_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/minutes/pkg/transcribe"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

// startStreamServer launches a test WebSocket server. The handler receives
// the accepted conn. The server is automatically closed when the test finishes.
func startStreamServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readFrame reads one frame, failing the test on timeout.
func readFrame(t *testing.T, conn *websocket.Conn) (transcribe.Frame, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return transcribe.Frame{}, false
	}
	var f transcribe.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Errorf("server got undecodable frame %q: %v", data, err)
		return transcribe.Frame{}, false
	}
	return f, true
}

// writeFrame sends f as a text frame.
func writeFrame(t *testing.T, conn *websocket.Conn, f transcribe.Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := transcribe.Encode(f)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeFrame: %v (may be expected on close)", err)
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestWebSocket_HelloWorldScenario(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []transcribe.Frame
	)
	srv := startStreamServer(t, func(conn *websocket.Conn) {
		for {
			f, ok := readFrame(t, conn)
			if !ok {
				return
			}
			mu.Lock()
			received = append(received, f)
			mu.Unlock()

			switch f.Type {
			case transcribe.FrameConfig:
				writeFrame(t, conn, transcribe.ReadyFrame())
			case transcribe.FrameAudio:
				writeFrame(t, conn, transcribe.TranscriptFrame("Hello"))
				writeFrame(t, conn, transcribe.TranscriptFrame("Hello world"))
			case transcribe.FrameStop:
				writeFrame(t, conn, transcribe.DoneFrame())
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	})

	c, err := transcribe.NewClient(wsURL(srv))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	var (
		tmu   sync.Mutex
		texts []string
		got2  = make(chan struct{})
	)
	c.OnTranscript(func(ev transcribe.TranscriptEvent) {
		tmu.Lock()
		defer tmu.Unlock()
		texts = append(texts, ev.Text)
		if len(texts) == 2 {
			close(got2)
		}
	})

	if !c.Start(t.Context(), "en") {
		t.Fatal("Start = false, want true")
	}
	if err := c.SendAudio([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case <-got2:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for transcripts")
	}

	begin := time.Now()
	c.Stop(t.Context())
	if elapsed := time.Since(begin); elapsed > 3*time.Second {
		t.Errorf("Stop took %v, want it to resolve on done", elapsed)
	}

	tmu.Lock()
	if len(texts) != 2 || texts[0] != "Hello" || texts[1] != "Hello world" {
		t.Errorf("transcripts = %v, want [Hello, Hello world]", texts)
	}
	tmu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("server received %d frames, want 3: %+v", len(received), received)
	}
	if received[0].Type != transcribe.FrameConfig || received[0].Language != "en" {
		t.Errorf("first frame = %+v", received[0])
	}
	if b, err := received[1].Audio(); err != nil || len(b) != 3 {
		t.Errorf("audio frame payload = %v, %v", b, err)
	}
	if received[2].Type != transcribe.FrameStop {
		t.Errorf("last frame = %+v, want stop", received[2])
	}
}

func TestWebSocket_UnreachableServer(t *testing.T) {
	t.Parallel()

	// Reserve a port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c, err := transcribe.NewClient("ws://" + addr + "/stream")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	begin := time.Now()
	if c.Start(t.Context(), "en") {
		t.Fatal("Start = true against unreachable server")
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second+500*time.Millisecond {
		t.Errorf("Start took %v, want at most the 5s connect window", elapsed)
	}

	// Must not panic.
	_ = c.SendAudio([]byte("x"))
	c.Stop(t.Context())
}

func TestWebSocket_NoReadyClosesConnection(t *testing.T) {
	t.Parallel()

	serverSawClose := make(chan struct{})
	srv := startStreamServer(t, func(conn *websocket.Conn) {
		if _, ok := readFrame(t, conn); !ok {
			return
		}
		// Never answer; wait for the client to give up.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _, err := conn.Read(ctx)
		if err != nil && ctx.Err() == nil {
			close(serverSawClose)
		}
	})

	c, err := transcribe.NewClient(wsURL(srv), transcribe.WithConnectTimeout(200*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Start(t.Context(), "en") {
		t.Fatal("Start = true without ready frame")
	}

	select {
	case <-serverSawClose:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not observe the connection closing")
	}
}

func TestWebSocket_ServerDisconnectMidStream(t *testing.T) {
	t.Parallel()

	srv := startStreamServer(t, func(conn *websocket.Conn) {
		if f, ok := readFrame(t, conn); !ok || f.Type != transcribe.FrameConfig {
			return
		}
		writeFrame(t, conn, transcribe.ReadyFrame())
		readFrame(t, conn) // first audio chunk
		conn.Close(websocket.StatusInternalError, "model crashed")
	})

	c, err := transcribe.NewClient(wsURL(srv))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	errs := make(chan transcribe.ErrorEvent, 1)
	c.OnError(func(ev transcribe.ErrorEvent) { errs <- ev })

	if !c.Start(t.Context(), "en") {
		t.Fatal("Start = false")
	}
	_ = c.SendAudio([]byte("chunk"))

	select {
	case ev := <-errs:
		if !ev.Fatal {
			t.Errorf("error event not fatal: %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no error event after server disconnect")
	}
	if got := c.State(); got != transcribe.StateError {
		t.Errorf("State = %s, want error", got)
	}
}

func TestWebSocketDialer_SendOnClosedLinkDoesNotPanic(t *testing.T) {
	t.Parallel()

	srv := startStreamServer(t, func(conn *websocket.Conn) {
		<-conn.CloseRead(context.Background()).Done()
	})

	d := transcribe.NewWebSocketDialer()
	l, err := d.Open(t.Context(), wsURL(srv), transcribe.LinkHandlers{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	l.Send(transcribe.StopFrame())
}

// startStalledServer launches a server that reads the config frame,
// answers ready when sendReady is set, and then stops reading until the
// test ends.
func startStalledServer(t *testing.T, sendReady bool) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := startStreamServer(t, func(conn *websocket.Conn) {
		if f, ok := readFrame(t, conn); !ok || f.Type != transcribe.FrameConfig {
			return
		}
		if sendReady {
			writeFrame(t, conn, transcribe.ReadyFrame())
		}
		<-release
	})
	// Cleanups run last-in first-out: the handler returns before srv.Close.
	t.Cleanup(func() { close(release) })
	return srv
}

func TestWebSocket_StalledServerStartKeepsConnectWindow(t *testing.T) {
	t.Parallel()

	srv := startStalledServer(t, false)
	c, err := transcribe.NewClient(wsURL(srv), transcribe.WithConnectTimeout(300*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	begin := time.Now()
	if c.Start(t.Context(), "en") {
		t.Fatal("Start = true without ready frame")
	}
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Errorf("Start took %v, want about the 300ms connect window", elapsed)
	}
	if got := c.State(); got != transcribe.StateError {
		t.Errorf("State = %s, want error", got)
	}
}

func TestWebSocket_StalledServerStopKeepsStopTimeout(t *testing.T) {
	t.Parallel()

	srv := startStalledServer(t, true)
	c, err := transcribe.NewClient(wsURL(srv), transcribe.WithStopTimeout(300*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if !c.Start(t.Context(), "en") {
		t.Fatal("Start = false")
	}
	_ = c.SendAudio([]byte{0x01, 0x02})

	begin := time.Now()
	c.Stop(t.Context())
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Errorf("Stop took %v, want about the 300ms stop timeout", elapsed)
	}
	if got := c.State(); got != transcribe.StateClosed {
		t.Errorf("State = %s, want closed", got)
	}
}

func TestWebSocket_ReplacingSessionOnStalledServer(t *testing.T) {
	t.Parallel()

	srv := startStalledServer(t, true)
	c, err := transcribe.NewClient(wsURL(srv))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if !c.Start(t.Context(), "en") {
		t.Fatal("first Start = false")
	}
	first := c.Session()

	begin := time.Now()
	if !c.Start(t.Context(), "de") {
		t.Fatal("second Start = false")
	}
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Errorf("replacing Start took %v, want it not to wait on the old connection", elapsed)
	}
	if got := first.State(); got != transcribe.StateClosed {
		t.Errorf("previous session state = %s, want closed", got)
	}
}

func TestWebSocketDialer_CloseDoesNotWaitForPeer(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := startStreamServer(t, func(*websocket.Conn) { <-release })
	t.Cleanup(func() { close(release) })

	l, err := transcribe.NewWebSocketDialer().Open(t.Context(), wsURL(srv), transcribe.LinkHandlers{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	begin := time.Now()
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 500*time.Millisecond {
		t.Errorf("Close took %v against a peer that never answers", elapsed)
	}
}
