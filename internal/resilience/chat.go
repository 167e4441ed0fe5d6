package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fabula/pkg/provider/llm"
)

// ErrAllBackendsFailed is returned by [ChatGroup.ChatWithFunctions] when every
// registered backend either failed or had an open breaker.
var ErrAllBackendsFailed = errors.New("resilience: all model backends failed")

type chatEntry struct {
	name     string
	provider llm.Provider
	breaker  *Breaker
}

// ChatGroup runs the function-selection exchange against a primary model
// backend and fails over to alternates when it misbehaves. Each backend keeps
// its own [Breaker], so a dead primary is skipped without a network round
// trip once its breaker has tripped.
type ChatGroup struct {
	entries []chatEntry
	cfg     BreakerConfig
}

// NewChatGroup creates a group with primary as the preferred backend. The
// breaker config is cloned per backend; cfg.Name is overridden with each
// backend's name.
func NewChatGroup(primary llm.Provider, cfg BreakerConfig) *ChatGroup {
	g := &ChatGroup{cfg: cfg}
	g.add(primary)
	return g
}

// AddFallback registers an alternate backend. Fallbacks are tried in the
// order they are added, after the primary.
func (g *ChatGroup) AddFallback(p llm.Provider) {
	g.add(p)
}

func (g *ChatGroup) add(p llm.Provider) {
	cfg := g.cfg
	cfg.Name = p.Name()
	g.entries = append(g.entries, chatEntry{
		name:     p.Name(),
		provider: p,
		breaker:  NewBreaker(cfg),
	})
}

// ChatWithFunctions runs the full prompt-call-parse exchange against the
// first healthy backend. Backends with an open breaker are skipped. A context
// cancellation stops the walk immediately so a timed-out turn does not retry
// against fallbacks it has no time budget left for.
func (g *ChatGroup) ChatWithFunctions(ctx context.Context, messages []llm.Message, functions []llm.Function, basePrompt string) (*llm.Response, error) {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]

		var resp *llm.Response
		err := e.breaker.Do(func() error {
			var callErr error
			resp, callErr = llm.ChatWithFunctions(ctx, e.provider, messages, functions, basePrompt)
			return callErr
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping model backend, breaker open", "backend", e.name)
		} else {
			slog.Warn("model backend failed", "backend", e.name, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
