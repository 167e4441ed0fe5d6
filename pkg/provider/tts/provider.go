// Package tts defines the text-to-speech plug of the narrative engine.
//
// Each turn the controller interrupts whatever the narrator is still saying
// and speaks the new narrative. A Provider therefore carries interruption in
// its contract: Speak synthesises and delivers one utterance, Stop aborts the
// in-flight utterance of a session. Synthesised audio leaves through an
// [audio.Sink]; the provider never touches a speaker itself.
//
// Implementations must be safe for concurrent use across sessions.
package tts

import (
	"context"
	"sync"
)

// Provider is the abstraction over one speech synthesis backend.
type Provider interface {
	// Speak synthesises text and delivers the audio to the session's sink.
	// It blocks until the utterance is fully delivered, aborted by Stop, or
	// ctx is cancelled. Speaking while a previous utterance of the same
	// session is still playing implicitly stops the previous one.
	Speak(ctx context.Context, sessionID, text string) error

	// Stop aborts the in-flight utterance of a session, if any. Stopping an
	// idle session is a no-op.
	Stop(sessionID string)
}

// Interrupter tracks one cancellable utterance per session. Backends embed it
// to get the Speak/Stop interplay right without repeating the bookkeeping.
// The zero value is ready to use.
type Interrupter struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// Begin registers a new utterance for the session and returns its context.
// A previous utterance of the same session is cancelled first.
func (i *Interrupter) Begin(ctx context.Context, sessionID string) (context.Context, context.CancelFunc) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if cancel, ok := i.active[sessionID]; ok {
		cancel()
	}
	if i.active == nil {
		i.active = make(map[string]context.CancelFunc)
	}
	ctx, cancel := context.WithCancel(ctx)
	i.active[sessionID] = cancel
	return ctx, cancel
}

// Stop cancels the session's in-flight utterance, if any.
func (i *Interrupter) Stop(sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if cancel, ok := i.active[sessionID]; ok {
		cancel()
		delete(i.active, sessionID)
	}
}

// End clears the bookkeeping after an utterance finished on its own.
func (i *Interrupter) End(sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.active, sessionID)
}
