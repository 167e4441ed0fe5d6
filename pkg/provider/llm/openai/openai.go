// Package openai provides an llm.Provider backed by the OpenAI API.
//
// This is the native tool-calling path: the action catalogue is forwarded as
// function tools, and the model's selection comes back structured instead of
// as JSON-in-prose. Each tool carries a single required "response" string
// argument so the in-character narrative always travels with the selection.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"fabula/pkg/provider/llm"
)

// Compile-time interface check.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the OpenAI API.
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

// New constructs an OpenAI provider.
func New(settings llm.Settings, opts ...Option) (*Provider, error) {
	if settings.APIKey == "" {
		return nil, fmt.Errorf("openai: api key must not be empty")
	}
	if settings.Model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(settings.APIKey),
	}
	if settings.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(settings.BaseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), settings: settings}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "openai" }

// SupportsNativeFunctionCalling implements llm.Provider.
func (p *Provider) SupportsNativeFunctionCalling() bool { return true }

// BuildPrompt implements llm.Provider. The native path passes the base prompt
// through untouched; the catalogue travels as tools in the call step.
func (p *Provider) BuildPrompt(basePrompt string, _ []llm.Function, messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: basePrompt})
	return append(out, messages...)
}

// CallModel implements llm.Provider.
func (p *Provider) CallModel(ctx context.Context, messages []llm.Message, functions []llm.Function) (*llm.Response, error) {
	params, err := p.buildParams(messages, functions)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	result := &llm.Response{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		result.FunctionCall = &llm.FunctionCall{
			Name:     tc.Function.Name,
			Response: narrativeFromArguments(tc.Function.Arguments, choice.Message.Content),
		}
	}
	return result, nil
}

// ParseSelection implements llm.Provider. Some models answer in text despite
// the tool catalogue, so the fallback parser stays wired.
func (p *Provider) ParseSelection(text string) llm.FunctionCall {
	return llm.DefaultParseSelection(text)
}

// narrativeFromArguments pulls the "response" argument out of a tool call,
// falling back to the message content when the model omitted it.
func narrativeFromArguments(arguments, content string) string {
	var args struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err == nil && args.Response != "" {
		return args.Response
	}
	return content
}

// narrativeParameters is the schema attached to parameterless game actions:
// the model must hand back the player-facing narrative with its selection.
var narrativeParameters = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"response": map[string]any{
			"type":        "string",
			"description": "Short in-character reply to the player.",
		},
	},
	"required": []string{"response"},
}

// buildParams converts messages and the action catalogue into SDK params.
func (p *Provider) buildParams(messages []llm.Message, functions []llm.Function) (oai.ChatCompletionNewParams, error) {
	converted := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		converted = append(converted, msg)
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

	for _, f := range functions {
		schema := f.Parameters
		if schema == nil {
			schema = narrativeParameters
		}
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        f.Name,
				Description: param.NewOpt(f.Description),
				Parameters:  shared.FunctionParameters(schema),
			},
		})
	}

	return params, nil
}

// convertMessage converts an llm.Message to an OpenAI SDK message param.
func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
