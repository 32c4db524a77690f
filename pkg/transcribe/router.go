package transcribe

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnhandledFrame is returned by [Router.Route] for a well-formed frame
// whose type has no registered handler.
var ErrUnhandledFrame = errors.New("transcribe: unhandled frame type")

// Router decodes inbound messages and dispatches each frame to exactly one
// handler chosen by its type tag. It is used on both ends of the protocol:
// the client routes ready/transcript/done/error, the server routes
// config/audio/stop.
type Router struct {
	mu       sync.RWMutex
	handlers map[FrameType]func(Frame)
}

// NewRouter returns a router with no handlers.
func NewRouter() *Router {
	return &Router{handlers: make(map[FrameType]func(Frame))}
}

// Handle registers fn for frames of type t, replacing any earlier handler.
func (r *Router) Handle(t FrameType, fn func(Frame)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = fn
}

// Route decodes data and invokes the matching handler. Undecodable and
// unhandled frames are reported as errors and never reach a handler; the
// caller decides how loudly to log them.
func (r *Router) Route(data []byte) error {
	f, err := Decode(data)
	if err != nil {
		return err
	}
	r.mu.RLock()
	fn, ok := r.handlers[f.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnhandledFrame, f.Type)
	}
	fn(f)
	return nil
}
