// Package mock provides a recording test double for the messaging.Queue
// interface.
//
// Use Queue in unit tests to verify which events the engine emitted and in
// what order, without a live transport.
package mock

import (
	"sync"

	"fabula/internal/messaging"
)

// Compile-time interface check.
var _ messaging.Queue = (*Queue)(nil)

// Queue is a mock messaging.Queue that records every sent message.
// The zero value is ready to use. Safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	sent []messaging.Message
}

// Send implements messaging.Queue.
func (q *Queue) Send(msg messaging.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, msg)
}

// Sent returns a copy of all recorded messages in send order.
func (q *Queue) Sent() []messaging.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]messaging.Message, len(q.sent))
	copy(out, q.sent)
	return out
}

// SentOfType returns all recorded messages of the given type, in send order.
func (q *Queue) SentOfType(t messaging.Type) []messaging.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []messaging.Message
	for _, m := range q.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Reset discards all recorded messages.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = nil
}
