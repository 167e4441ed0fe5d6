package ws

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"fabula/pkg/audio"
)

// Compile-time interface check.
var _ audio.Sink = (*AudioSink)(nil)

// AudioSink streams synthesised speech to connected clients as binary
// WebSocket frames, while the narrative and game events travel as text
// frames on the same socket. Chunks for a session without a live connection
// are dropped.
//
// The handler attaches each connection on upgrade and detaches it when the
// client goes away. Safe for concurrent use.
type AudioSink struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewAudioSink returns an empty sink.
func NewAudioSink() *AudioSink {
	return &AudioSink{conns: make(map[string]*websocket.Conn)}
}

// Attach routes the session's audio to conn, replacing any previous route.
func (s *AudioSink) Attach(sessionID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[sessionID] = conn
}

// Detach removes the session's audio route. Detaching an unknown session is
// a no-op.
func (s *AudioSink) Detach(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, sessionID)
}

// Write implements [audio.Sink].
func (s *AudioSink) Write(sessionID string, chunk []byte) error {
	s.mu.Lock()
	conn := s.conns[sessionID]
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Write(context.Background(), websocket.MessageBinary, chunk)
}

// Close implements [audio.Sink]. The socket itself belongs to the handler;
// closing the audio stream only drops the route.
func (s *AudioSink) Close(sessionID string) error {
	s.Detach(sessionID)
	return nil
}
