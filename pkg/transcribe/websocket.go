package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultQueueSize      = 256

	// Cumulative transcripts of long meetings easily exceed the library's
	// 32 KiB default read limit.
	defaultReadLimit = 4 << 20
)

// Compile-time assertions.
var (
	_ Dialer = (*WebSocketDialer)(nil)
	_ Link   = (*wsLink)(nil)
)

// DialerOption configures a [WebSocketDialer].
type DialerOption func(*WebSocketDialer)

// WithDialTimeout bounds the WebSocket opening handshake. Defaults to 5s.
func WithDialTimeout(d time.Duration) DialerOption {
	return func(w *WebSocketDialer) {
		if d > 0 {
			w.connectTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single frame write. Defaults to 5s.
func WithWriteTimeout(d time.Duration) DialerOption {
	return func(w *WebSocketDialer) {
		if d > 0 {
			w.writeTimeout = d
		}
	}
}

// WithPingInterval makes the link send a WebSocket ping every d to keep
// idle connections alive. Zero (the default) disables client pings; pings
// sent by the server are always answered.
func WithPingInterval(d time.Duration) DialerOption {
	return func(w *WebSocketDialer) { w.pingInterval = d }
}

// WithQueueSize sets the number of outbound frames that may be queued
// before Send starts dropping. Defaults to 256.
func WithQueueSize(n int) DialerOption {
	return func(w *WebSocketDialer) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithHTTPHeader adds headers to the opening handshake request.
func WithHTTPHeader(h http.Header) DialerOption {
	return func(w *WebSocketDialer) { w.header = h }
}

// WebSocketDialer opens [Link]s over WebSocket text frames.
type WebSocketDialer struct {
	connectTimeout time.Duration
	writeTimeout   time.Duration
	pingInterval   time.Duration
	queueSize      int
	header         http.Header
}

// NewWebSocketDialer returns a dialer with the given options applied.
func NewWebSocketDialer(opts ...DialerOption) *WebSocketDialer {
	d := &WebSocketDialer{
		connectTimeout: defaultConnectTimeout,
		writeTimeout:   defaultWriteTimeout,
		queueSize:      defaultQueueSize,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open dials url and starts the link's read and write goroutines. The
// handlers in h are wired before any message is read.
func (d *WebSocketDialer) Open(ctx context.Context, url string, h LinkHandlers) (Link, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{HTTPHeader: d.header})
	if err != nil {
		return nil, fmt.Errorf("transcribe: dial %s: %w", url, err)
	}
	conn.SetReadLimit(defaultReadLimit)

	lctx, lcancel := context.WithCancel(context.Background())
	l := &wsLink{
		url:          url,
		conn:         conn,
		handlers:     h,
		out:          make(chan []byte, d.queueSize),
		writeTimeout: d.writeTimeout,
		ctx:          lctx,
		cancel:       lcancel,
	}

	go l.readLoop()
	go l.writeLoop()
	if d.pingInterval > 0 {
		go l.pingLoop(d.pingInterval)
	}
	return l, nil
}

// ---- link -------------------------------------------------------------------

// wsLink is a live WebSocket connection. Handler invocations from the read
// and write goroutines are serialised through dispatchMu.
type wsLink struct {
	url          string
	conn         *websocket.Conn
	handlers     LinkHandlers
	out          chan []byte
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once

	dispatchMu sync.Mutex
}

// Send encodes f and queues it for the write goroutine.
func (l *wsLink) Send(f Frame) {
	if l.closed.Load() {
		slog.Warn("transcribe: dropping frame on closed link", "type", f.Type, "url", l.url)
		return
	}
	data, err := Encode(f)
	if err != nil {
		slog.Error("transcribe: cannot encode outbound frame", "type", f.Type, "err", err)
		return
	}
	select {
	case l.out <- data:
	default:
		slog.Warn("transcribe: outbound queue full, frame dropped", "type", f.Type, "queued", len(l.out))
	}
}

// Close marks the link closed and runs the WebSocket closing handshake in
// the background, so it returns without waiting for the peer.
func (l *wsLink) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		go func() {
			defer l.cancel()
			if err := l.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
				// Already torn down by the peer or by a failed write.
				slog.Debug("transcribe: close handshake", "url", l.url, "err", err)
			}
		}()
	})
	return nil
}

func (l *wsLink) dispatch(fn func()) {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()
	fn()
}

func (l *wsLink) readLoop() {
	for {
		_, data, err := l.conn.Read(l.ctx)
		if err != nil {
			if l.closed.Load() {
				return
			}
			l.closed.Store(true)
			l.cancel()
			if l.handlers.OnClose != nil {
				l.dispatch(func() { l.handlers.OnClose(fmt.Errorf("transcribe: connection closed: %w", err)) })
			}
			return
		}
		if l.handlers.OnMessage != nil {
			l.dispatch(func() { l.handlers.OnMessage(data) })
		}
	}
}

func (l *wsLink) writeLoop() {
	for {
		select {
		case <-l.ctx.Done():
			return
		case data := <-l.out:
			wctx, cancel := context.WithTimeout(l.ctx, l.writeTimeout)
			err := l.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if l.closed.Load() {
					return
				}
				if l.handlers.OnError != nil {
					l.dispatch(func() { l.handlers.OnError(fmt.Errorf("transcribe: write: %w", err)) })
				}
				// The read goroutine observes the teardown and reports OnClose.
				_ = l.conn.CloseNow()
				return
			}
		}
	}
}

func (l *wsLink) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(l.ctx, interval)
			if err := l.conn.Ping(pctx); err != nil && !l.closed.Load() {
				slog.Debug("transcribe: ping failed", "url", l.url, "err", err)
			}
			cancel()
		}
	}
}
