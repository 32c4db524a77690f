// Package mock provides in-memory test doubles for the transcribe.Dialer and
// transcribe.Link interfaces.
//
// A Link records every frame sent through it. Tests drive the inbound side
// with Deliver, DeliverRaw and Drop, which invoke the registered handlers
// synchronously on the calling goroutine, one at a time.
//
// Example:
//
//	d := &mock.Dialer{Reply: mock.ReadyOnConfig}
//	c, _ := transcribe.NewClient("ws://test", transcribe.WithDialer(d))
//	c.Start(ctx, "en")
//	d.Last().Deliver(transcribe.TranscriptFrame("hello"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/minutes/pkg/transcribe"
)

// Compile-time interface assertions.
var (
	_ transcribe.Dialer = (*Dialer)(nil)
	_ transcribe.Link   = (*Link)(nil)
)

// ReplyFunc computes frames the fake server answers with after f was sent.
// Replies are delivered asynchronously, in order, on a fresh goroutine.
type ReplyFunc func(f transcribe.Frame) []transcribe.Frame

// ReadyOnConfig answers config with ready.
func ReadyOnConfig(f transcribe.Frame) []transcribe.Frame {
	if f.Type == transcribe.FrameConfig {
		return []transcribe.Frame{transcribe.ReadyFrame()}
	}
	return nil
}

// ReadyAndDone answers config with ready and stop with done.
func ReadyAndDone(f transcribe.Frame) []transcribe.Frame {
	switch f.Type {
	case transcribe.FrameConfig:
		return []transcribe.Frame{transcribe.ReadyFrame()}
	case transcribe.FrameStop:
		return []transcribe.Frame{transcribe.DoneFrame()}
	}
	return nil
}

// Dialer is a mock implementation of transcribe.Dialer.
type Dialer struct {
	mu sync.Mutex

	// OpenErr, when non-nil, is returned by every Open call.
	OpenErr error

	// Reply is copied into every opened Link.
	Reply ReplyFunc

	urls  []string
	links []*Link
}

// Open records url and returns a new Link wired to h.
func (d *Dialer) Open(ctx context.Context, url string, h transcribe.LinkHandlers) (transcribe.Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := &Link{handlers: h, reply: d.Reply}
	d.links = append(d.links, l)
	return l, nil
}

// URLs returns the URLs of all Open calls.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.urls))
	copy(out, d.urls)
	return out
}

// Links returns every link opened so far.
func (d *Dialer) Links() []*Link {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Link, len(d.links))
	copy(out, d.links)
	return out
}

// Last returns the most recently opened link, or nil.
func (d *Dialer) Last() *Link {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.links) == 0 {
		return nil
	}
	return d.links[len(d.links)-1]
}

// Link is a mock implementation of transcribe.Link.
type Link struct {
	mu         sync.Mutex
	handlers   transcribe.LinkHandlers
	reply      ReplyFunc
	sent       []transcribe.Frame
	closed     bool
	closeCalls int

	dispatchMu sync.Mutex
}

// Send records f unless the link is closed and schedules any replies.
func (l *Link) Send(f transcribe.Frame) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.sent = append(l.sent, f)
	reply := l.reply
	l.mu.Unlock()

	if reply == nil {
		return
	}
	if out := reply(f); len(out) > 0 {
		go func() {
			for _, r := range out {
				l.Deliver(r)
			}
		}()
	}
}

// Close marks the link closed. It never calls OnClose, like a real link
// closed locally.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.closeCalls++
	return nil
}

// Deliver encodes f and passes it to OnMessage. Delivery works even after
// Close so tests can simulate late frames.
func (l *Link) Deliver(f transcribe.Frame) {
	data, err := transcribe.Encode(f)
	if err != nil {
		panic(err)
	}
	l.DeliverRaw(data)
}

// DeliverRaw passes data to OnMessage unchanged.
func (l *Link) DeliverRaw(data []byte) {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()
	if l.handlers.OnMessage != nil {
		l.handlers.OnMessage(data)
	}
}

// Drop simulates the remote end going away: the link is marked closed and
// OnClose receives err.
func (l *Link) Drop(err error) {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()
	if l.handlers.OnClose != nil {
		l.handlers.OnClose(err)
	}
}

// Sent returns a copy of all frames sent so far.
func (l *Link) Sent() []transcribe.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]transcribe.Frame, len(l.sent))
	copy(out, l.sent)
	return out
}

// SentOfType returns the sent frames whose type is t.
func (l *Link) SentOfType(t transcribe.FrameType) []transcribe.Frame {
	var out []transcribe.Frame
	for _, f := range l.Sent() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// Closed reports whether Close or Drop was called.
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// CloseCalls returns the number of Close calls.
func (l *Link) CloseCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeCalls
}
