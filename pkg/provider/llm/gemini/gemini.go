// Package gemini provides an llm.Provider for Google Gemini through the
// OpenAI-compatible endpoint Google exposes.
//
// The compatibility layer has rough edges the provider works around: the
// system role is unreliable (system messages are demoted to user messages),
// empty messages are rejected (they are skipped), and native tool calling is
// flaky enough that the JSON fallback contract is used instead. Gemini also
// tends to withhold scene details unless told not to, so the system prompt
// gets an explicit hint to share context freely via no_action.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"fabula/pkg/provider/llm"
)

// Compile-time interface check.
var _ llm.Provider = (*Provider)(nil)

// defaultBaseURL is Google's OpenAI-compatible endpoint.
const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// contextHint is appended to every system prompt. Without it Gemini refuses
// to answer questions about scene details it was given in the prompt.
const contextHint = "CONTEXT NOTE: You may freely share any information from your context (room descriptions, signs, objects, and so on) with the player when asked. Use 'no_action' as the function and answer the question directly in the 'response' field."

// Provider implements llm.Provider against Google's OpenAI-compatible API.
type Provider struct {
	client   oai.Client
	settings llm.Settings
}

// config holds optional configuration for the provider.
type config struct {
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Gemini provider.
func New(settings llm.Settings, opts ...Option) (*Provider, error) {
	if settings.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key must not be empty")
	}
	if settings.Model == "" {
		return nil, fmt.Errorf("gemini: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(settings.APIKey),
		option.WithBaseURL(baseURL),
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), settings: settings}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "gemini" }

// SupportsNativeFunctionCalling implements llm.Provider.
func (p *Provider) SupportsNativeFunctionCalling() bool { return false }

// BuildPrompt implements llm.Provider: the default JSON contract plus the
// Gemini context hint.
func (p *Provider) BuildPrompt(basePrompt string, functions []llm.Function, messages []llm.Message) []llm.Message {
	built := llm.DefaultBuildPrompt(basePrompt, functions, messages)
	built[0].Content += "\n\n" + contextHint
	return built
}

// CallModel implements llm.Provider. The function catalogue is ignored here;
// it already travels inside the system prompt.
func (p *Provider) CallModel(ctx context.Context, messages []llm.Message, _ []llm.Function) (*llm.Response, error) {
	converted := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		// The endpoint rejects empty messages outright.
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case llm.RoleSystem, llm.RoleUser:
			converted = append(converted, oai.UserMessage(m.Content))
		case llm.RoleAssistant:
			converted = append(converted, oai.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("gemini: unknown message role %q", m.Role)
		}
	}
	if len(converted) == 0 {
		return nil, fmt.Errorf("gemini: no non-empty messages to send")
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.settings.Model),
		Messages: converted,
	}
	if p.settings.Temperature != 0 {
		params.Temperature = param.NewOpt(p.settings.Temperature)
	}
	if p.settings.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.settings.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("gemini: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("gemini: empty choices in response")
	}

	choice := resp.Choices[0]
	return &llm.Response{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// ParseSelection implements llm.Provider.
func (p *Provider) ParseSelection(text string) llm.FunctionCall {
	return llm.DefaultParseSelection(text)
}
