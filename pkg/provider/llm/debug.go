package llm

import (
	"context"
	"log/slog"
)

// WithDebug wraps p so every model call logs the complete request and
// response message lists at Debug level. The full prompt contains the whole
// game state, so this is strictly a development switch.
func WithDebug(p Provider) Provider {
	return &debugProvider{Provider: p}
}

type debugProvider struct {
	Provider
}

// CallModel implements Provider.
func (d *debugProvider) CallModel(ctx context.Context, messages []Message, functions []Function) (*Response, error) {
	for i, m := range messages {
		slog.Debug("llm: request message",
			"provider", d.Name(),
			"index", i,
			"role", m.Role,
			"content", m.Content)
	}
	for _, f := range functions {
		slog.Debug("llm: offered function", "provider", d.Name(), "name", f.Name, "description", f.Description)
	}

	resp, err := d.Provider.CallModel(ctx, messages, functions)
	if err != nil {
		slog.Debug("llm: call failed", "provider", d.Name(), "err", err)
		return nil, err
	}
	slog.Debug("llm: raw response",
		"provider", d.Name(),
		"model", resp.Model,
		"content", resp.Content,
		"finish_reason", resp.FinishReason)
	return resp, nil
}
