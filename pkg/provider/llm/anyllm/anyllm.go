// Package anyllm provides a universal llm.Provider backed by
// github.com/mozilla-ai/any-llm-go, covering OpenAI, Anthropic, Gemini,
// Ollama, DeepSeek, Mistral, Groq, and local llama.cpp servers through one
// backend interface.
//
// Local and exotic backends rarely implement tool calling consistently, so
// this provider always uses the JSON fallback contract.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"fabula/pkg/provider/llm"
)

// Compile-time interface check.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by wrapping any-llm-go.
type Provider struct {
	backend  anyllmlib.Provider
	name     string
	settings llm.Settings
}

// New creates a Provider for the given backend name, one of: "openai",
// "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp",
// "llamafile". Settings.APIKey may be empty for backends that read their
// environment variable or need no key at all (local servers).
func New(backendName string, settings llm.Settings) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backend name must not be empty")
	}
	if settings.Model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	var opts []anyllmlib.Option
	if settings.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(settings.APIKey))
	}
	if settings.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(settings.BaseURL))
	}

	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}
	return &Provider{
		backend:  backend,
		name:     "anyllm/" + strings.ToLower(backendName),
		settings: settings,
	}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(backendName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(backendName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", backendName)
	}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.name }

// SupportsNativeFunctionCalling implements llm.Provider.
func (p *Provider) SupportsNativeFunctionCalling() bool { return false }

// BuildPrompt implements llm.Provider.
func (p *Provider) BuildPrompt(basePrompt string, functions []llm.Function, messages []llm.Message) []llm.Message {
	return llm.DefaultBuildPrompt(basePrompt, functions, messages)
}

// CallModel implements llm.Provider. The function catalogue is ignored here;
// it already travels inside the system prompt.
func (p *Provider) CallModel(ctx context.Context, messages []llm.Message, _ []llm.Function) (*llm.Response, error) {
	converted := make([]anyllmlib.Message, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.settings.Model,
		Messages: converted,
	}
	if p.settings.Temperature != 0 {
		t := p.settings.Temperature
		params.Temperature = &t
	}
	if p.settings.MaxTokens > 0 {
		mt := p.settings.MaxTokens
		params.MaxTokens = &mt
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	choice := resp.Choices[0]
	result := &llm.Response{
		Content:      choice.Message.ContentString(),
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// ParseSelection implements llm.Provider.
func (p *Provider) ParseSelection(text string) llm.FunctionCall {
	return llm.DefaultParseSelection(text)
}
