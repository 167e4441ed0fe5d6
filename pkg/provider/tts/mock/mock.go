// Package mock provides a recording tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"fabula/pkg/provider/tts"
)

// Compile-time interface check.
var _ tts.Provider = (*Provider)(nil)

// SpeakCall records one Speak invocation.
type SpeakCall struct {
	SessionID string
	Text      string
}

// Provider is a mock tts.Provider that records calls.
// The zero value is ready to use. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned by every Speak.
	SpeakErr error

	speaks []SpeakCall
	stops  []string
}

// Speak implements tts.Provider.
func (p *Provider) Speak(ctx context.Context, sessionID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speaks = append(p.speaks, SpeakCall{SessionID: sessionID, Text: text})
	return p.SpeakErr
}

// Stop implements tts.Provider.
func (p *Provider) Stop(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops = append(p.stops, sessionID)
}

// Speaks returns a copy of all recorded Speak calls in order.
func (p *Provider) Speaks() []SpeakCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SpeakCall, len(p.speaks))
	copy(out, p.speaks)
	return out
}

// Stops returns a copy of all recorded Stop session IDs in order.
func (p *Provider) Stops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.stops))
	copy(out, p.stops)
	return out
}
