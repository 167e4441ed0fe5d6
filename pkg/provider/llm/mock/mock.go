// Package mock provides a scripted llm.Provider for tests.
//
// Queue responses with Enqueue (or EnqueueSelection for the common case) and
// inspect what the engine sent via Calls. The zero value answers every call
// with a no_action selection.
package mock

import (
	"context"
	"sync"
	"time"

	"fabula/pkg/provider/llm"
)

// Compile-time interface check.
var _ llm.Provider = (*Provider)(nil)

// Call records one CallModel invocation.
type Call struct {
	Messages  []llm.Message
	Functions []llm.Function
}

// Provider is a scripted llm.Provider. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Native switches BuildPrompt to the pass-through path and makes the
	// scripted responses look like native tool-call results.
	Native bool

	// Err, if non-nil, is returned by every CallModel.
	Err error

	// Delay, if set, makes CallModel wait before answering (or bail out on
	// context cancellation). Used to exercise timeout handling.
	Delay time.Duration

	responses []*llm.Response
	calls     []Call
}

// Enqueue appends a scripted response. Responses are consumed in order; when
// the queue is empty a default no_action response is served.
func (p *Provider) Enqueue(resp *llm.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
}

// EnqueueSelection scripts a turn in one line: the model picks function with
// the given narrative.
func (p *Provider) EnqueueSelection(function, narrative string) {
	p.Enqueue(&llm.Response{
		Content:      narrative,
		Model:        "mock-model",
		FunctionCall: &llm.FunctionCall{Name: function, Response: narrative},
	})
}

// EnqueueText scripts a raw-text turn with no structured selection, so the
// orchestrator exercises the fallback parser.
func (p *Provider) EnqueueText(text string) {
	p.Enqueue(&llm.Response{Content: text, Model: "mock-model"})
}

// Calls returns a copy of all recorded CallModel invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// LastCall returns the most recent CallModel invocation.
func (p *Provider) LastCall() (Call, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return Call{}, false
	}
	return p.calls[len(p.calls)-1], true
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "mock" }

// SupportsNativeFunctionCalling implements llm.Provider.
func (p *Provider) SupportsNativeFunctionCalling() bool { return p.Native }

// BuildPrompt implements llm.Provider.
func (p *Provider) BuildPrompt(basePrompt string, functions []llm.Function, messages []llm.Message) []llm.Message {
	if p.Native {
		out := make([]llm.Message, 0, len(messages)+1)
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: basePrompt})
		return append(out, messages...)
	}
	return llm.DefaultBuildPrompt(basePrompt, functions, messages)
}

// CallModel implements llm.Provider.
func (p *Provider) CallModel(ctx context.Context, messages []llm.Message, functions []llm.Function) (*llm.Response, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := make([]llm.Message, len(messages))
	copy(msgs, messages)
	fns := make([]llm.Function, len(functions))
	copy(fns, functions)
	p.calls = append(p.calls, Call{Messages: msgs, Functions: fns})

	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.responses) == 0 {
		return &llm.Response{
			Content:      "Nothing happens.",
			Model:        "mock-model",
			FunctionCall: &llm.FunctionCall{Name: llm.NoActionName, Response: "Nothing happens."},
		}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	// Return a copy so a test mutating the response cannot corrupt the script.
	out := *resp
	if resp.FunctionCall != nil {
		fc := *resp.FunctionCall
		out.FunctionCall = &fc
	}
	return &out, nil
}

// ParseSelection implements llm.Provider.
func (p *Provider) ParseSelection(text string) llm.FunctionCall {
	return llm.DefaultParseSelection(text)
}
