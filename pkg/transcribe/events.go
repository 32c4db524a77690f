package transcribe

import "sync"

// TranscriptEvent is published for every transcript frame. Text is the
// cumulative transcript of the session and replaces any earlier text.
type TranscriptEvent struct {
	SessionID string
	Text      string
}

// ReadyEvent is published once per session when the server acknowledged
// the configuration and audio may be streamed.
type ReadyEvent struct {
	SessionID string
	Language  string
}

// ErrorEvent reports a server error frame or a lost connection.
type ErrorEvent struct {
	SessionID string
	Message   string

	// Fatal is true when the session moved to [StateError] and must be
	// replaced by a new Start call.
	Fatal bool
}

// Topic is a typed publish/subscribe channel. Publish delivers to every
// subscriber synchronously and in subscription order. Concurrent Publish
// calls are serialised so subscribers never run concurrently with each
// other.
//
// Subscribers must not block for long. Session events run on the link's
// read path, which is also what delivers the done frame: a subscriber that
// calls Stop on the owning [Client] inline gets no done and returns after
// the stop timeout. Calling Stop from a new goroutine resolves on done.
type Topic[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription[T]

	deliver sync.Mutex
}

type subscription[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is a no-op.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscription[T]{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers v to all current subscribers.
func (t *Topic[T]) Publish(v T) {
	t.deliver.Lock()
	defer t.deliver.Unlock()

	t.mu.Lock()
	subs := make([]subscription[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len reports the number of active subscribers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
