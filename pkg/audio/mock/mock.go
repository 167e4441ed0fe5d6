// Package mock provides recording test doubles for the audio plug interfaces.
package mock

import (
	"sync"

	"fabula/pkg/audio"
)

// Compile-time interface checks.
var (
	_ audio.Jukebox = (*Jukebox)(nil)
	_ audio.Sink    = (*Sink)(nil)
)

// PlayCall records a single invocation of PlaySound.
type PlayCall struct {
	SessionID string
	File      string
	Volume    int
	Loop      bool
	Duration  float64
}

// Jukebox is a mock audio.Jukebox that records every call.
// The zero value is ready to use. Safe for concurrent use.
type Jukebox struct {
	mu sync.Mutex

	// PlayCalls records every invocation of PlaySound in order.
	PlayCalls []PlayCall

	// StopAmbientCalls records the session IDs passed to StopAmbient.
	StopAmbientCalls []string

	// StopAllCalls records the session IDs passed to StopAll.
	StopAllCalls []string
}

// PlaySound implements audio.Jukebox.
func (j *Jukebox) PlaySound(sessionID, file string, volume int, loop bool, duration float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.PlayCalls = append(j.PlayCalls, PlayCall{
		SessionID: sessionID,
		File:      file,
		Volume:    volume,
		Loop:      loop,
		Duration:  duration,
	})
}

// StopAmbient implements audio.Jukebox.
func (j *Jukebox) StopAmbient(sessionID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.StopAmbientCalls = append(j.StopAmbientCalls, sessionID)
}

// StopAll implements audio.Jukebox.
func (j *Jukebox) StopAll(sessionID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.StopAllCalls = append(j.StopAllCalls, sessionID)
}

// Snapshot returns copies of all recorded calls.
func (j *Jukebox) Snapshot() (plays []PlayCall, stopAmbient, stopAll []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	plays = append(plays, j.PlayCalls...)
	stopAmbient = append(stopAmbient, j.StopAmbientCalls...)
	stopAll = append(stopAll, j.StopAllCalls...)
	return plays, stopAmbient, stopAll
}

// WriteCall records a single invocation of Sink.Write.
type WriteCall struct {
	SessionID string
	Chunk     []byte
}

// Sink is a mock audio.Sink that records writes and closes.
// Set WriteErr to inject a write failure. Safe for concurrent use.
type Sink struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every Write.
	WriteErr error

	// Writes records every Write in order.
	Writes []WriteCall

	// Closed records the session IDs passed to Close.
	Closed []string
}

// Write implements audio.Sink.
func (s *Sink) Write(sessionID string, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make([]byte, len(chunk))
	copy(c, chunk)
	s.Writes = append(s.Writes, WriteCall{SessionID: sessionID, Chunk: c})
	return s.WriteErr
}

// WriteCount returns the number of recorded writes.
func (s *Sink) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Writes)
}

// Close implements audio.Sink.
func (s *Sink) Close(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = append(s.Closed, sessionID)
	return nil
}
