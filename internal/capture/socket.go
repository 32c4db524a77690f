package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const (
	defaultAckTimeout   = 5 * time.Second
	socketWriteDeadline = 5 * time.Second
)

// Envelope kinds on the capture socket.
const (
	kindRequest  = "request"
	kindAck      = "ack"
	kindChunk    = "chunk"
	kindComplete = "complete"
	kindError    = "error"
)

// envelope is one NDJSON line exchanged between a [SocketBridge] and a
// [SocketAgentClient]. Byte slices travel as base64.
type envelope struct {
	Kind        string    `json:"kind"`
	Seq         uint64    `json:"seq,omitempty"`
	Request     *Request  `json:"request,omitempty"`
	Response    *Response `json:"response,omitempty"`
	RecordingID string    `json:"recordingId,omitempty"`
	Data        []byte    `json:"data,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// lineConn frames envelopes as newline-delimited JSON. Writes are
// serialised; reads must come from one goroutine.
type lineConn struct {
	conn net.Conn
	dec  *json.Decoder

	wmu sync.Mutex
	enc *json.Encoder
}

func newLineConn(c net.Conn) *lineConn {
	return &lineConn{
		conn: c,
		dec:  json.NewDecoder(bufio.NewReader(c)),
		enc:  json.NewEncoder(c),
	}
}

func (l *lineConn) read() (envelope, error) {
	var env envelope
	err := l.dec.Decode(&env)
	return env, err
}

func (l *lineConn) write(env envelope) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(socketWriteDeadline))
	if err := l.enc.Encode(env); err != nil {
		return fmt.Errorf("capture: write %s: %w", env.Kind, err)
	}
	return nil
}

func (l *lineConn) Close() error { return l.conn.Close() }

// ---- bridge (coordinator side) ----

var _ Agent = (*SocketBridge)(nil)

// BridgeOption is a functional option for [NewSocketBridge].
type BridgeOption func(*SocketBridge)

// WithAckTimeout bounds the wait for the capture process to acknowledge a
// start or stop request. Defaults to 5s.
func WithAckTimeout(d time.Duration) BridgeOption {
	return func(b *SocketBridge) {
		if d > 0 {
			b.ackTimeout = d
		}
	}
}

// SocketBridge is an [Agent] that forwards requests to a capture process
// connected to a unix socket. One capture process is served at a time; a
// new connection replaces the previous one.
type SocketBridge struct {
	path       string
	ackTimeout time.Duration

	mu        sync.Mutex
	ln        net.Listener
	conn      *lineConn
	rep       Reporter
	recording string
	seq       uint64
	pending   map[uint64]chan envelope
	closed    bool
}

// NewSocketBridge returns a bridge that will listen on path.
func NewSocketBridge(path string, opts ...BridgeOption) *SocketBridge {
	b := &SocketBridge{
		path:       path,
		ackTimeout: defaultAckTimeout,
		pending:    make(map[uint64]chan envelope),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Listen binds the socket, removing a stale socket file first.
func (b *SocketBridge) Listen() error {
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("capture: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", b.path)
	if err != nil {
		return fmt.Errorf("capture: listen on %s: %w", b.path, err)
	}
	b.mu.Lock()
	b.ln = ln
	b.mu.Unlock()
	slog.Info("capture: bridge listening", "socket", b.path)
	return nil
}

// Serve accepts capture processes until ctx is cancelled or Close is
// called. Listen must have succeeded.
func (b *SocketBridge) Serve(ctx context.Context) error {
	b.mu.Lock()
	ln := b.ln
	b.mu.Unlock()
	if ln == nil {
		return errors.New("capture: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, func() { _ = b.Close() })
	defer stop()

	for {
		c, err := ln.Accept()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("capture: accept: %w", err)
		}
		lc := newLineConn(c)

		b.mu.Lock()
		prev := b.conn
		b.conn = lc
		b.mu.Unlock()
		if prev != nil {
			slog.Warn("capture: replacing connected capture agent")
			_ = prev.Close()
		}
		slog.Info("capture: agent connected")
		go b.readLoop(lc)
	}
}

// Connected reports whether a capture process is attached.
func (b *SocketBridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Close stops accepting and drops the current capture process.
func (b *SocketBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ln, conn := b.ln, b.conn
	b.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	return err
}

// StartCapture implements [Agent].
func (b *SocketBridge) StartCapture(ctx context.Context, recordingID string, source Source, rep Reporter) error {
	b.mu.Lock()
	b.rep = rep
	b.recording = recordingID
	b.mu.Unlock()

	err := b.call(ctx, Request{Action: ActionStart, RecordingID: recordingID, Source: source})
	if err != nil {
		b.mu.Lock()
		if b.recording == recordingID {
			b.recording = ""
		}
		b.mu.Unlock()
	}
	return err
}

// StopCapture implements [Agent].
func (b *SocketBridge) StopCapture(ctx context.Context, recordingID string) error {
	return b.call(ctx, Request{Action: ActionStop, RecordingID: recordingID})
}

// call sends req and waits for the matching ack.
func (b *SocketBridge) call(ctx context.Context, req Request) error {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return ErrNoAgent
	}
	b.seq++
	seq := b.seq
	ack := make(chan envelope, 1)
	b.pending[seq] = ack
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, seq)
		b.mu.Unlock()
	}()

	if err := conn.write(envelope{Kind: kindRequest, Seq: seq, Request: &req}); err != nil {
		return err
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()

	select {
	case env := <-ack:
		if env.Error != "" {
			return fmt.Errorf("capture: agent rejected %s: %s", req.Action, env.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("capture: agent did not acknowledge %s within %s", req.Action, b.ackTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *SocketBridge) readLoop(lc *lineConn) {
	for {
		env, err := lc.read()
		if err != nil {
			b.dropConn(lc, err)
			return
		}
		switch env.Kind {
		case kindAck:
			b.mu.Lock()
			ch := b.pending[env.Seq]
			b.mu.Unlock()
			if ch == nil {
				slog.Debug("capture: dropping unmatched ack", "seq", env.Seq)
				continue
			}
			select {
			case ch <- env:
			default:
			}
		case kindChunk:
			if rep := b.reporter(); rep != nil {
				rep.Chunk(env.RecordingID, env.Data)
			}
		case kindComplete, kindError:
			resp := env.Response
			if resp == nil {
				slog.Warn("capture: outcome without response body", "kind", env.Kind)
				continue
			}
			rep := b.reporter()
			b.mu.Lock()
			if b.recording == resp.RecordingID {
				b.recording = ""
			}
			b.mu.Unlock()
			if rep == nil {
				continue
			}
			if env.Kind == kindComplete {
				rep.Complete(resp.RecordingID, resp.Audio)
			} else {
				rep.Fail(resp.RecordingID, resp.Error)
			}
		default:
			slog.Warn("capture: dropping unknown envelope", "kind", env.Kind)
		}
	}
}

func (b *SocketBridge) reporter() Reporter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rep
}

// dropConn forgets lc, fails waiting calls and the running recording.
func (b *SocketBridge) dropConn(lc *lineConn, cause error) {
	b.mu.Lock()
	if b.conn != lc {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	for _, ch := range b.pending {
		select {
		case ch <- envelope{Kind: kindAck, Error: "capture agent disconnected"}:
		default:
		}
	}
	rep, recording := b.rep, b.recording
	b.recording = ""
	closed := b.closed
	b.mu.Unlock()

	_ = lc.Close()
	if !closed {
		slog.Warn("capture: agent disconnected", "err", cause)
	}
	if rep != nil && recording != "" {
		rep.Fail(recording, "capture agent disconnected")
	}
}
