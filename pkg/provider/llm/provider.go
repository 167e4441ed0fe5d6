// Package llm defines the model provider abstraction of the narrative engine.
//
// Every turn runs the same three steps: build the full message list, call the
// backend, and parse the model's selection into a function call. A provider
// implements the three steps; [ChatWithFunctions] orchestrates them. Backends
// with native tool calling return a structured selection from the call step
// and skip text parsing; everything else gets JSON instructions inlined into
// the system prompt and the tolerant fallback parser.
package llm

import (
	"context"
	"log/slog"
)

// Provider is the abstraction over one model backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly from CallModel.
type Provider interface {
	// Name identifies the provider ("openai", "gemini", ...).
	Name() string

	// BuildPrompt produces the complete message list for one call: the system
	// message first, then the conversation history. JSON-fallback providers
	// inline the function catalogue and response format into the system
	// message; native providers pass the base prompt through untouched.
	BuildPrompt(basePrompt string, functions []Function, messages []Message) []Message

	// CallModel performs the network call. Providers with native tool calling
	// forward functions as the tool catalogue and may return a Response whose
	// FunctionCall is already set; others ignore functions here.
	CallModel(ctx context.Context, messages []Message, functions []Function) (*Response, error)

	// ParseSelection extracts the function selection from raw model text.
	// It never fails: anything unparseable degrades to NoActionName with the
	// raw text preserved as the narrative.
	ParseSelection(text string) FunctionCall

	// SupportsNativeFunctionCalling reports whether CallModel can return a
	// structured selection on its own.
	SupportsNativeFunctionCalling() bool
}

// ChatWithFunctions runs one full turn against p: build, call, parse.
//
// The base prompt wins over any system message already present in messages;
// when basePrompt is empty a leading system message is promoted instead. The
// returned response always carries a non-nil FunctionCall whose name is
// guaranteed to be either NoActionName or one of the offered functions — a
// hallucinated selection is demoted to NoActionName with the narrative kept.
func ChatWithFunctions(ctx context.Context, p Provider, messages []Message, functions []Function, basePrompt string) (*Response, error) {
	if basePrompt == "" && len(messages) > 0 && messages[0].Role == RoleSystem {
		basePrompt = messages[0].Content
	}
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		messages = messages[1:]
	}

	built := p.BuildPrompt(basePrompt, functions, messages)
	slog.Debug("llm: request", "provider", p.Name(), "messages", len(built), "functions", len(functions))

	resp, err := p.CallModel(ctx, built, functions)
	if err != nil {
		return nil, err
	}

	if resp.FunctionCall == nil {
		fc := p.ParseSelection(resp.Content)
		resp.FunctionCall = &fc
		resp.Content = fc.Response
	} else if resp.FunctionCall.Response != "" {
		resp.Content = resp.FunctionCall.Response
	}

	normalizeSelection(resp, functions)
	slog.Debug("llm: response",
		"provider", p.Name(),
		"model", resp.Model,
		"function", resp.FunctionCall.Name,
		"finish_reason", resp.FinishReason,
		"total_tokens", resp.Usage.TotalTokens)
	return resp, nil
}

// normalizeSelection maps legacy sentinels and names outside the offered set
// to NoActionName. The narrative survives either way.
func normalizeSelection(resp *Response, functions []Function) {
	name := resp.FunctionCall.Name
	if name == legacyNoActionName {
		resp.FunctionCall.Name = NoActionName
		return
	}
	if name == NoActionName {
		return
	}
	for _, f := range functions {
		if f.Name == name {
			return
		}
	}
	slog.Warn("llm: model selected an unknown function", "function", name)
	resp.FunctionCall.Name = NoActionName
}
