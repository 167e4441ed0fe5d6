// Package elevenlabs provides a tts.Provider backed by the ElevenLabs
// streaming WebSocket API. One utterance opens one socket: the narrative goes
// out in a single text message, PCM chunks come back base64-encoded and are
// forwarded to the audio sink as they arrive.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"

	"fabula/pkg/audio"
	"fabula/pkg/provider/tts"
)

// Compile-time interface check.
var _ tts.Provider = (*Provider)(nil)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g. "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// Provider implements tts.Provider against the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	voiceID      string
	model        string
	outputFormat string
	sink         audio.Sink

	interrupt tts.Interrupter
}

// New creates an ElevenLabs provider speaking with the given voice into sink.
func New(apiKey, voiceID string, sink audio.Sink, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voice id must not be empty")
	}
	if sink == nil {
		return nil, errors.New("elevenlabs: sink must not be nil")
	}
	p := &Provider{
		apiKey:       apiKey,
		voiceID:      voiceID,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		sink:         sink,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// beginMessage is the authenticating first frame of a stream-input socket.
type beginMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// textMessage carries one text fragment; an empty Text flushes the stream.
type textMessage struct {
	Text string `json:"text"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is one frame received from ElevenLabs.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Speak implements tts.Provider.
func (p *Provider) Speak(ctx context.Context, sessionID, text string) error {
	if text == "" {
		return nil
	}
	ctx, cancel := p.interrupt.Begin(ctx, sessionID)
	defer cancel()
	defer p.interrupt.End(sessionID)

	wsURL := fmt.Sprintf(wsEndpointFmt, p.voiceID, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// ElevenLabs requires a non-empty first text value.
	begin := beginMessage{
		Text: " ",
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		XiAPIKey:     p.apiKey,
		OutputFormat: p.outputFormat,
	}
	if err := writeJSON(ctx, conn, begin); err != nil {
		return fmt.Errorf("elevenlabs: send begin: %w", err)
	}
	if err := writeJSON(ctx, conn, textMessage{Text: text}); err != nil {
		return fmt.Errorf("elevenlabs: send text: %w", err)
	}
	// Empty text flushes and ends the input.
	if err := writeJSON(ctx, conn, textMessage{}); err != nil {
		return fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Interrupted by Stop or a newer utterance; not a failure.
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				continue
			}
			if err := p.sink.Write(sessionID, pcm); err != nil {
				slog.Warn("elevenlabs: sink write failed, dropping chunk",
					"session_id", sessionID, "err", err)
			}
		}
		if resp.IsFinal {
			return nil
		}
	}
}

// Stop implements tts.Provider.
func (p *Provider) Stop(sessionID string) {
	p.interrupt.Stop(sessionID)
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, raw)
}
