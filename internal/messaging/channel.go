package messaging

import (
	"log/slog"
	"sync"
)

// Compile-time interface check.
var _ Queue = (*ChannelQueue)(nil)

// defaultBuffer is the per-session message buffer before drops begin.
const defaultBuffer = 64

// ChannelQueue is a buffered, order-preserving [Queue] backed by a channel.
// Transports drain it via [ChannelQueue.Messages]. When the buffer is full the
// oldest message is dropped so that the game loop never blocks on a slow or
// absent client.
//
// All methods are safe for concurrent use.
type ChannelQueue struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

// NewChannelQueue returns a ready-to-use queue with the default buffer size.
func NewChannelQueue() *ChannelQueue {
	return &ChannelQueue{ch: make(chan Message, defaultBuffer)}
}

// Send implements [Queue]. If the buffer is full, the oldest pending message
// is discarded to make room.
func (q *ChannelQueue) Send(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	for {
		select {
		case q.ch <- msg:
			return
		default:
		}
		select {
		case dropped := <-q.ch:
			slog.Warn("messaging: buffer full, dropping oldest message", "type", dropped.Type)
		default:
		}
	}
}

// Messages returns the receive side for transports. The channel is closed by
// [ChannelQueue.Close].
func (q *ChannelQueue) Messages() <-chan Message {
	return q.ch
}

// Close marks the queue closed and closes the message channel. Sends after
// Close are silently discarded.
func (q *ChannelQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
