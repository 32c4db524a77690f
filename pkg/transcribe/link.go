package transcribe

import "context"

// LinkHandlers receives the inbound side of a [Link]. A link invokes its
// handlers one at a time, never concurrently, and in the order the
// underlying events happened. Nil handlers are skipped.
type LinkHandlers struct {
	// OnMessage receives every inbound message in network order.
	OnMessage func(data []byte)

	// OnClose is called at most once when the connection ends for a
	// reason other than a local Close.
	OnClose func(err error)

	// OnError reports transport failures that do not by themselves end
	// the connection, such as a failed write.
	OnError func(err error)
}

// Link is a duplex, message-oriented connection to a transcription
// endpoint. It moves frames and does not interpret them.
//
// Implementations must be safe for concurrent use.
type Link interface {
	// Send queues f for delivery. It never blocks on the network and never
	// fails loudly: a send on a closed or congested link is dropped and
	// logged.
	Send(f Frame)

	// Close shuts the connection down without blocking on the peer, so
	// the session timeouts hold even against a stalled server. Closing an
	// already closed link is a no-op.
	Close() error
}

// Dialer opens links. Open must respect ctx for the connection attempt and
// must not retry on its own.
type Dialer interface {
	Open(ctx context.Context, url string, h LinkHandlers) (Link, error)
}
