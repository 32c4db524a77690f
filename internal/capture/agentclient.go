package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Default redial parameters.
const (
	defaultRedialBackoff    = 1 * time.Second
	defaultRedialMaxBackoff = 30 * time.Second
)

var _ Reporter = (*SocketAgentClient)(nil)

// AgentClientOption is a functional option for [NewSocketAgentClient].
type AgentClientOption func(*SocketAgentClient)

// WithRedialBackoff sets the initial and maximum delay between redial
// attempts. The delay doubles after each failure.
func WithRedialBackoff(initial, maxBackoff time.Duration) AgentClientOption {
	return func(c *SocketAgentClient) {
		if initial > 0 {
			c.backoff = initial
		}
		if maxBackoff > 0 {
			c.maxBackoff = maxBackoff
		}
	}
}

// WithMaxRetries makes Run give up after n consecutive failed dials.
// Zero, the default, retries forever.
func WithMaxRetries(n int) AgentClientOption {
	return func(c *SocketAgentClient) { c.maxRetries = n }
}

// SocketAgentClient runs in the capture process. It dials the
// coordinator's [SocketBridge], executes start and stop requests on a local
// [Agent] and streams the agent's output back. Lost connections are redialed
// with exponential backoff; a recording running when the link drops is
// stopped and its outcome discarded.
type SocketAgentClient struct {
	path       string
	agent      Agent
	backoff    time.Duration
	maxBackoff time.Duration
	maxRetries int

	mu     sync.Mutex
	conn   *lineConn
	active string
}

// NewSocketAgentClient returns a client serving agent over the socket at path.
func NewSocketAgentClient(path string, agent Agent, opts ...AgentClientOption) *SocketAgentClient {
	c := &SocketAgentClient{
		path:       path,
		agent:      agent,
		backoff:    defaultRedialBackoff,
		maxBackoff: defaultRedialMaxBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run connects and serves requests until ctx is cancelled. It returns nil
// on cancellation and an error only when MaxRetries is exhausted.
func (c *SocketAgentClient) Run(ctx context.Context) error {
	currentBackoff := c.backoff
	attempt := 0

	for {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", c.path)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			if c.maxRetries > 0 && attempt >= c.maxRetries {
				return fmt.Errorf("capture: giving up after %d attempts: %w", attempt, err)
			}
			slog.Warn("capture: dial coordinator failed",
				"socket", c.path,
				"attempt", attempt,
				"backoff", currentBackoff,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(currentBackoff):
			}
			currentBackoff *= 2
			if currentBackoff > c.maxBackoff {
				currentBackoff = c.maxBackoff
			}
			continue
		}

		if attempt > 0 {
			slog.Info("capture: reconnected to coordinator", "socket", c.path, "attempt", attempt)
		} else {
			slog.Info("capture: connected to coordinator", "socket", c.path)
		}
		attempt = 0
		currentBackoff = c.backoff

		c.serve(ctx, newLineConn(conn))
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Connected reports whether the client currently holds a connection.
func (c *SocketAgentClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *SocketAgentClient) serve(ctx context.Context, lc *lineConn) {
	c.mu.Lock()
	c.conn = lc
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = lc.Close() })
	defer stop()

	for {
		env, err := lc.read()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("capture: coordinator connection lost", "err", err)
			}
			break
		}
		if env.Kind != kindRequest || env.Request == nil {
			slog.Warn("capture: dropping unexpected envelope", "kind", env.Kind)
			continue
		}
		ack := envelope{Kind: kindAck, Seq: env.Seq}
		if err := c.handle(ctx, *env.Request); err != nil {
			ack.Error = err.Error()
		}
		if err := lc.write(ack); err != nil {
			slog.Warn("capture: failed to acknowledge request", "err", err)
		}
	}

	c.mu.Lock()
	c.conn = nil
	orphan := c.active
	c.active = ""
	c.mu.Unlock()
	_ = lc.Close()

	if orphan != "" {
		slog.Warn("capture: stopping recording orphaned by disconnect", "recording", orphan)
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultAckTimeout)
		defer cancel()
		if err := c.agent.StopCapture(stopCtx, orphan); err != nil && !errors.Is(err, ErrNotCapturing) {
			slog.Warn("capture: failed to stop orphaned recording", "recording", orphan, "err", err)
		}
	}
}

func (c *SocketAgentClient) handle(ctx context.Context, req Request) error {
	switch req.Action {
	case ActionStart:
		if err := c.agent.StartCapture(ctx, req.RecordingID, req.Source, c); err != nil {
			return err
		}
		c.mu.Lock()
		c.active = req.RecordingID
		c.mu.Unlock()
		return nil
	case ActionStop:
		return c.agent.StopCapture(ctx, req.RecordingID)
	}
	return fmt.Errorf("unknown action %q", req.Action)
}

// send writes env on the current connection, dropping it when disconnected.
func (c *SocketAgentClient) send(env envelope) {
	c.mu.Lock()
	lc := c.conn
	c.mu.Unlock()
	if lc == nil {
		slog.Debug("capture: not connected, dropping outbound", "kind", env.Kind, "recording", env.RecordingID)
		return
	}
	if err := lc.write(env); err != nil {
		slog.Warn("capture: send failed", "kind", env.Kind, "err", err)
	}
}

// finished clears the active recording if it is id and reports whether it was.
func (c *SocketAgentClient) finished(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != id {
		return false
	}
	c.active = ""
	return true
}

// Chunk implements [Reporter].
func (c *SocketAgentClient) Chunk(recordingID string, pcm []byte) {
	c.send(envelope{Kind: kindChunk, RecordingID: recordingID, Data: pcm})
}

// Complete implements [Reporter].
func (c *SocketAgentClient) Complete(recordingID string, wav []byte) {
	if !c.finished(recordingID) {
		slog.Debug("capture: discarding recording of orphaned session", "recording", recordingID)
		return
	}
	c.send(envelope{Kind: kindComplete, Response: &Response{RecordingID: recordingID, Audio: wav}})
}

// Fail implements [Reporter].
func (c *SocketAgentClient) Fail(recordingID string, message string) {
	if !c.finished(recordingID) {
		slog.Debug("capture: discarding failure of orphaned session", "recording", recordingID, "message", message)
		return
	}
	c.send(envelope{Kind: kindError, Response: &Response{RecordingID: recordingID, Error: message}})
}
