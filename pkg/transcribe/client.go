package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLanguage is used when Start is called with an empty language.
	DefaultLanguage = "en"

	defaultStopTimeout = 10 * time.Second
)

// topics groups the per-kind event channels shared by a client's sessions.
type topics struct {
	transcripts Topic[TranscriptEvent]
	ready       Topic[ReadyEvent]
	errors      Topic[ErrorEvent]
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithDialer replaces the WebSocket dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithConnectTimeout sets the window from Start until the ready frame,
// dialing included. Defaults to 5s.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithStopTimeout sets how long Stop waits for the done frame. Defaults to
// 10s.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.stopTimeout = d
		}
	}
}

// WithDefaultLanguage sets the language used when Start receives "".
func WithDefaultLanguage(lang string) Option {
	return func(c *Client) {
		if lang != "" {
			c.defaultLanguage = lang
		}
	}
}

// Client owns at most one live [Session] against a streaming transcription
// server. It is the whole surface the rest of the application needs:
// Start, SendAudio, Stop and the three subscriptions.
//
// Client is safe for concurrent use. Starting a new session tears down the
// previous one first.
type Client struct {
	url             string
	dialer          Dialer
	connectTimeout  time.Duration
	stopTimeout     time.Duration
	defaultLanguage string

	topics topics

	mu      sync.Mutex
	current *Session
}

// NewClient returns a Client for the WebSocket endpoint at streamURL
// (e.g., "ws://127.0.0.1:8765/stream"). See [StreamURL] for deriving it
// from the server's HTTP address.
func NewClient(streamURL string, opts ...Option) (*Client, error) {
	if streamURL == "" {
		return nil, errors.New("transcribe: stream URL must not be empty")
	}
	c := &Client{
		url:             streamURL,
		connectTimeout:  defaultConnectTimeout,
		stopTimeout:     defaultStopTimeout,
		defaultLanguage: DefaultLanguage,
	}
	for _, o := range opts {
		o(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebSocketDialer(WithDialTimeout(c.connectTimeout))
	}
	return c, nil
}

// StreamURL converts an HTTP base address of the transcription server into
// its streaming endpoint: http becomes ws, https becomes wss, and the path
// /stream is appended.
func StreamURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("transcribe: parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("transcribe: unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/stream"
	return u.String(), nil
}

// Start opens a new session in the given language and waits until the
// server is ready. It returns false on connect failure, on a missing ready
// frame within the connect window, or when a concurrent Start replaced the
// session. It never returns an error: failures are logged.
func (c *Client) Start(ctx context.Context, language string) bool {
	if language == "" {
		language = c.defaultLanguage
	}
	s := newSession(uuid.NewString(), c.url, language, c)

	c.mu.Lock()
	prev := c.current
	c.current = s
	c.mu.Unlock()

	if prev != nil && !prev.State().Terminal() {
		slog.Info("transcribe: replacing live session", "old", prev.ID(), "new", s.ID())
		prev.Close()
	}
	return s.start(ctx)
}

// SendAudio forwards one audio chunk to the current session. It does not
// block on the network. Without a streaming session the chunk is dropped
// and an error wrapping [ErrNotStreaming] is returned.
func (c *Client) SendAudio(chunk []byte) error {
	s := c.Session()
	if s == nil {
		slog.Warn("transcribe: audio chunk dropped, no session", "bytes", len(chunk))
		return fmt.Errorf("%w (no session)", ErrNotStreaming)
	}
	return s.SendAudio(chunk)
}

// Stop ends the current session and returns once it is closed. Calling
// Stop repeatedly is safe.
func (c *Client) Stop(ctx context.Context) {
	if s := c.Session(); s != nil {
		s.Stop(ctx)
	}
}

// Close tears down the current session without the stop exchange.
func (c *Client) Close() {
	if s := c.Session(); s != nil {
		s.Close()
	}
}

// Session returns the most recent session, or nil before the first Start.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State returns the state of the most recent session, or [StateIdle].
func (c *Client) State() State {
	if s := c.Session(); s != nil {
		return s.State()
	}
	return StateIdle
}

// OnTranscript subscribes to cumulative transcript updates.
func (c *Client) OnTranscript(fn func(TranscriptEvent)) (unsubscribe func()) {
	return c.topics.transcripts.Subscribe(fn)
}

// OnReady subscribes to session readiness.
func (c *Client) OnReady(fn func(ReadyEvent)) (unsubscribe func()) {
	return c.topics.ready.Subscribe(fn)
}

// OnError subscribes to server errors and lost connections.
func (c *Client) OnError(fn func(ErrorEvent)) (unsubscribe func()) {
	return c.topics.errors.Subscribe(fn)
}
