package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// ErrNotStreaming is returned by SendAudio when the session is not in
// [StateReady] or [StateStreaming]. The chunk is dropped.
var ErrNotStreaming = errors.New("transcribe: session is not streaming")

// errReadyTimeout marks a session that connected but never saw a ready frame.
var errReadyTimeout = errors.New("transcribe: no ready frame within connect window")

// State is the lifecycle position of a [Session].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateStreaming
	StateStopping
	StateClosed
	StateError
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Active reports whether audio may be sent in this state.
func (s State) Active() bool { return s == StateReady || s == StateStreaming }

// Terminal reports whether the session is finished for good.
func (s State) Terminal() bool { return s == StateClosed || s == StateError }

// Session is one transcription attempt bound to one [Link]. Sessions are
// created by [Client.Start] and are never reused: after Closed or Error the
// caller starts a new one.
//
// All transitions happen under mu. Events are published after mu is
// released so subscribers may call back into the session.
type Session struct {
	id        string
	language  string
	url       string
	startedAt time.Time

	dialer         Dialer
	connectTimeout time.Duration
	stopTimeout    time.Duration
	topics         *topics

	mu          sync.Mutex
	state       State
	link        Link
	router      *Router
	transcript  string
	chunks      int
	stopAcked   bool
	linkDropped bool

	ready      chan struct{} // closed on the ready frame
	stopAck    chan struct{} // closed on the done frame while stopping
	linkGone   chan struct{} // closed when the link drops while stopping
	terminated chan struct{} // closed on entering Closed or Error
}

func newSession(id, url, language string, c *Client) *Session {
	s := &Session{
		id:             id,
		language:       language,
		url:            url,
		dialer:         c.dialer,
		connectTimeout: c.connectTimeout,
		stopTimeout:    c.stopTimeout,
		topics:         &c.topics,
		state:          StateIdle,
		ready:          make(chan struct{}),
		stopAck:        make(chan struct{}),
		linkGone:       make(chan struct{}),
		terminated:     make(chan struct{}),
	}
	s.router = NewRouter()
	s.router.Handle(FrameReady, s.handleReady)
	s.router.Handle(FrameTranscript, s.handleTranscript)
	s.router.Handle(FrameDone, s.handleDone)
	s.router.Handle(FrameError, s.handleError)
	return s
}

// ID returns the session identifier used in events and logs.
func (s *Session) ID() string { return s.id }

// Language returns the configured transcription language.
func (s *Session) Language() string { return s.language }

// StartedAt returns the time start was called.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the most recent cumulative transcript.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// ChunksSent returns the number of audio chunks forwarded to the link.
func (s *Session) ChunksSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

// ── lifecycle ────────────────────────────────────────────────────────────────

// start moves Idle → Connecting, opens the link, sends the config frame
// and waits for ready. The whole exchange shares one connect window.
func (s *Session) start(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return false
	}
	s.state = StateConnecting
	s.startedAt = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	link, err := s.dialer.Open(ctx, s.url, LinkHandlers{
		OnMessage: s.onMessage,
		OnClose:   s.onClose,
		OnError:   s.onLinkError,
	})
	if err != nil {
		slog.Warn("transcribe: connect failed", "session", s.id, "url", s.url, "err", err)
		s.finish(StateError)
		return false
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Torn down while dialing.
		s.mu.Unlock()
		_ = link.Close()
		return false
	}
	s.link = link
	link.Send(ConfigFrame(s.language))
	s.mu.Unlock()

	select {
	case <-s.ready:
		slog.Info("transcribe: session ready", "session", s.id, "language", s.language,
			"latency", time.Since(s.StartedAt()))
		return true
	case <-s.terminated:
		return false
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = errReadyTimeout
		}
		if _, failed := s.failFrom(err, StateConnecting); failed {
			return false
		}
		// Lost the race against the ready frame or a teardown.
		return s.State().Active()
	}
}

// SendAudio forwards chunk as an audio frame. Outside Ready/Streaming the
// chunk is dropped with a warning and ErrNotStreaming is returned.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		s.state = StateStreaming
		fallthrough
	case StateStreaming:
		s.link.Send(AudioFrame(chunk))
		s.chunks++
		return nil
	}
	slog.Warn("transcribe: audio chunk dropped", "session", s.id, "state", s.state, "bytes", len(chunk))
	return fmt.Errorf("%w (state %s)", ErrNotStreaming, s.state)
}

// Stop sends the stop frame and waits for done, the stop timeout, a link
// drop or ctx, whichever comes first, then closes the link. It always
// returns. A second call while stopping waits for the first to finish;
// calls on an idle or finished session return immediately.
func (s *Session) Stop(ctx context.Context) {
	s.mu.Lock()
	switch s.state {
	case StateReady, StateStreaming:
		s.state = StateStopping
		s.link.Send(StopFrame())
		s.mu.Unlock()
	case StateStopping:
		s.mu.Unlock()
		select {
		case <-s.terminated:
		case <-ctx.Done():
		}
		return
	case StateConnecting:
		s.mu.Unlock()
		s.finish(StateClosed)
		return
	default:
		s.mu.Unlock()
		return
	}

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case <-s.stopAck:
	case <-s.linkGone:
		slog.Warn("transcribe: link dropped before done frame", "session", s.id)
	case <-timer.C:
		slog.Warn("transcribe: no done frame before stop timeout, forcing close",
			"session", s.id, "timeout", s.stopTimeout)
	case <-ctx.Done():
		slog.Warn("transcribe: stop abandoned", "session", s.id, "err", ctx.Err())
	}
	s.finish(StateClosed)
}

// Close tears the session down immediately without the stop exchange.
func (s *Session) Close() {
	s.finish(StateClosed)
}

// Done returns a channel closed once the session reached Closed or Error.
func (s *Session) Done() <-chan struct{} { return s.terminated }

// finish moves the session into a terminal state and closes the link.
// It reports whether this call performed the transition.
func (s *Session) finish(to State) bool {
	_, ok := s.transition(to)
	return ok
}

// failFrom moves the session to Error if its current state is one of from.
// It returns the state it left and whether the transition happened.
func (s *Session) failFrom(cause error, from ...State) (State, bool) {
	prev, ok := s.transition(StateError, from...)
	if ok {
		slog.Warn("transcribe: session failed", "session", s.id, "state", prev, "err", cause)
	}
	return prev, ok
}

// transition performs a terminal transition. When from is non-empty the
// current state must be one of its members.
func (s *Session) transition(to State, from ...State) (State, bool) {
	s.mu.Lock()
	prev := s.state
	if prev.Terminal() || (len(from) > 0 && !slices.Contains(from, prev)) {
		s.mu.Unlock()
		return prev, false
	}
	s.state = to
	link := s.link
	close(s.terminated)
	s.mu.Unlock()

	slog.Debug("transcribe: session finished", "session", s.id, "from", prev, "to", to)
	if link != nil {
		_ = link.Close()
	}
	return prev, true
}

// ── link handlers ────────────────────────────────────────────────────────────

func (s *Session) onMessage(data []byte) {
	if err := s.router.Route(data); err != nil {
		slog.Warn("transcribe: dropping inbound frame", "session", s.id, "err", err, "bytes", len(data))
	}
}

func (s *Session) onClose(err error) {
	s.mu.Lock()
	if s.state == StateStopping {
		if !s.linkDropped {
			s.linkDropped = true
			close(s.linkGone)
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	from, failed := s.failFrom(err, StateConnecting, StateReady, StateStreaming)
	if !failed || from == StateConnecting {
		// A drop while connecting surfaces as start returning false.
		return
	}
	s.topics.errors.Publish(ErrorEvent{
		SessionID: s.id,
		Message:   fmt.Sprintf("connection lost: %v", err),
		Fatal:     true,
	})
}

func (s *Session) onLinkError(err error) {
	slog.Warn("transcribe: transport error", "session", s.id, "err", err)
}

// ── frame handlers ───────────────────────────────────────────────────────────

func (s *Session) handleReady(Frame) {
	s.mu.Lock()
	if s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		slog.Warn("transcribe: ignoring ready frame", "session", s.id, "state", state)
		return
	}
	s.state = StateReady
	close(s.ready)
	s.mu.Unlock()

	s.topics.ready.Publish(ReadyEvent{SessionID: s.id, Language: s.language})
}

func (s *Session) handleTranscript(f Frame) {
	s.mu.Lock()
	switch s.state {
	case StateReady, StateStreaming, StateStopping:
	default:
		state := s.state
		s.mu.Unlock()
		slog.Warn("transcribe: ignoring transcript frame", "session", s.id, "state", state)
		return
	}
	s.transcript = f.Text
	s.mu.Unlock()

	s.topics.transcripts.Publish(TranscriptEvent{SessionID: s.id, Text: f.Text})
}

func (s *Session) handleDone(Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopping || s.stopAcked {
		slog.Debug("transcribe: ignoring done frame", "session", s.id, "state", s.state)
		return
	}
	s.stopAcked = true
	close(s.stopAck)
}

func (s *Session) handleError(f Frame) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state.Terminal() {
		slog.Debug("transcribe: ignoring error frame", "session", s.id, "state", state, "message", f.Message)
		return
	}
	slog.Warn("transcribe: server reported error", "session", s.id, "message", f.Message)
	s.topics.errors.Publish(ErrorEvent{SessionID: s.id, Message: f.Message})
}
