// Package coqui provides a tts.Provider backed by a local Coqui TTS server's
// REST API (GET /api/tts). The server works in batch mode, one HTTP call per
// utterance; the resulting WAV bytes are chunked into the audio sink so the
// client can start playback before the download finishes.
package coqui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"fabula/pkg/audio"
	"fabula/pkg/provider/tts"
)

// Compile-time interface check.
var _ tts.Provider = (*Provider)(nil)

const (
	ttsEndpoint     = "/api/tts"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// chunkSize is the size of each audio chunk written to the sink.
	chunkSize = 4096
)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server (e.g. "en", "de").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSpeaker selects a speaker on multi-speaker models.
func WithSpeaker(speaker string) Option {
	return func(p *Provider) {
		p.speaker = speaker
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider against a Coqui TTS server.
type Provider struct {
	baseURL    string
	language   string
	speaker    string
	sink       audio.Sink
	httpClient *http.Client

	interrupt tts.Interrupter
}

// New creates a Coqui provider targeting the server at baseURL
// (e.g. "http://localhost:5002"), delivering audio into sink.
func New(baseURL string, sink audio.Sink, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: base url must not be empty")
	}
	if sink == nil {
		return nil, errors.New("coqui: sink must not be nil")
	}
	p := &Provider{
		baseURL:    baseURL,
		language:   defaultLanguage,
		sink:       sink,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Speak implements tts.Provider.
func (p *Provider) Speak(ctx context.Context, sessionID, text string) error {
	if text == "" {
		return nil
	}
	ctx, cancel := p.interrupt.Begin(ctx, sessionID)
	defer cancel()
	defer p.interrupt.End(sessionID)

	q := url.Values{}
	q.Set("text", text)
	q.Set("language_id", p.language)
	if p.speaker != "" {
		q.Set("speaker_id", p.speaker)
	}
	reqURL := p.baseURL + ttsEndpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("coqui: build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("coqui: synthesis request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: synthesis: unexpected status %d", resp.StatusCode)
	}

	buf := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			// Interrupted mid-utterance; not a failure.
			return nil
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if werr := p.sink.Write(sessionID, buf[:n]); werr != nil {
				slog.Warn("coqui: sink write failed, dropping chunk",
					"session_id", sessionID, "err", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("coqui: read audio: %w", err)
		}
	}
}

// Stop implements tts.Provider.
func (p *Provider) Stop(sessionID string) {
	p.interrupt.Stop(sessionID)
}
