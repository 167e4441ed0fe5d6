// Package controller orchestrates one session's turns: prompt build, model
// call, action execution, history, and side effect dispatch.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"fabula/internal/history"
	"fabula/internal/inventory"
	"fabula/internal/messaging"
	"fabula/internal/observe"
	"fabula/internal/statemachine"
	"fabula/pkg/provider/llm"
	"fabula/pkg/provider/tts"
)

// DefaultTimeout bounds the model exchange of one turn.
const DefaultTimeout = 30 * time.Second

// unavailableNarrative is shown when the model cannot be reached. It is
// in-character so a transient outage reads as a pause, not a stack trace.
const unavailableNarrative = "The storyteller falls silent for a moment, " +
	"lost in thought. Give them a little time and try again."

// ErrBusy is returned when a turn arrives while another one is still being
// processed for the same session.
var ErrBusy = errors.New("controller: a turn is already in progress")

// Chatter runs the full prompt-call-parse exchange against a model backend.
// In production this is a [fabula/internal/resilience.ChatGroup].
type Chatter interface {
	ChatWithFunctions(ctx context.Context, messages []llm.Message, functions []llm.Function, basePrompt string) (*llm.Response, error)
}

// TurnResult is what a processed turn hands back to the transport.
type TurnResult struct {
	// Narrative is the player-facing text, including any failure suffix.
	Narrative string

	// ExecutedAction is the action that fired, or empty when the turn was
	// narrative only (no_action, veto, failure).
	ExecutedAction string

	// CurrentState names the state the game is in after the turn.
	CurrentState string

	// Inventory is the variable map after the turn.
	Inventory map[string]any
}

// Config assembles a Controller. Machine, Inventory, and Chat are required.
type Config struct {
	SessionID string

	// Identity is the narrator personality from the game's config document.
	Identity string

	// Behaviour is the fixed instruction block appended to every base
	// prompt.
	Behaviour string

	// WelcomePrompt is sent as the first user message by StartGame.
	WelcomePrompt string

	Machine   *statemachine.Machine
	Inventory *inventory.Inventory
	Chat      Chatter

	// Speech is optional; when nil narratives are not spoken.
	Speech tts.Provider

	// Queue receives the narrative text events. May be nil.
	Queue messaging.Queue

	// Metrics may be nil.
	Metrics *observe.Metrics

	// Timeout bounds the model exchange. Zero selects DefaultTimeout.
	Timeout time.Duration

	// HistoryLength caps the turn log. Zero selects the package default.
	HistoryLength int
}

// Controller runs turns for exactly one session. Turns are strictly
// sequential; a turn arriving while another is in flight is rejected with
// [ErrBusy].
type Controller struct {
	sessionID     string
	identity      string
	behaviour     string
	welcomePrompt string

	machine   *statemachine.Machine
	inventory *inventory.Inventory
	chat      Chatter
	speech    tts.Provider
	queue     messaging.Queue
	metrics   *observe.Metrics
	timeout   time.Duration
	log       *history.History

	busy atomic.Bool
}

// New validates cfg and builds a controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Machine == nil {
		return nil, fmt.Errorf("controller: state machine is required")
	}
	if cfg.Inventory == nil {
		return nil, fmt.Errorf("controller: inventory is required")
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("controller: model client is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Controller{
		sessionID:     cfg.SessionID,
		identity:      cfg.Identity,
		behaviour:     cfg.Behaviour,
		welcomePrompt: cfg.WelcomePrompt,
		machine:       cfg.Machine,
		inventory:     cfg.Inventory,
		chat:          cfg.Chat,
		speech:        cfg.Speech,
		queue:         cfg.Queue,
		metrics:       cfg.Metrics,
		timeout:       cfg.Timeout,
		log:           history.New(cfg.HistoryLength),
	}, nil
}

// History exposes the turn log for inspection.
func (c *Controller) History() *history.History {
	return c.log
}

// ClearHistory drops the turn log. Used when the game definition is
// hot-swapped or the state is forced by an authoring tool, so the model does
// not remember a world that no longer exists.
func (c *Controller) ClearHistory() {
	c.log.Clear()
}

// StartGame begins the session: the current state's ambient track starts and
// the configured welcome prompt is sent as the first user message, so the
// opening narrative is model-generated and in character. With no welcome
// prompt configured only the ambient starts.
func (c *Controller) StartGame(ctx context.Context) (*TurnResult, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.busy.Store(false)

	c.machine.StartAmbient()
	if c.welcomePrompt == "" {
		return c.result("", ""), nil
	}
	return c.turn(ctx, c.welcomePrompt)
}

// ProcessTurn runs one full turn for the given user text. The narrative is
// always non-empty on a nil error, even when the model is unreachable.
func (c *Controller) ProcessTurn(ctx context.Context, userText string) (*TurnResult, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.busy.Store(false)

	return c.turn(ctx, userText)
}

func (c *Controller) turn(ctx context.Context, userText string) (*TurnResult, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "turn")
	defer span.End()
	defer func() {
		c.metrics.RecordTurn(ctx, time.Since(start))
	}()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	basePrompt := c.renderBasePrompt()
	offered := c.machine.AvailableActions()
	functions := c.toFunctions(offered)

	messages := c.log.ToLLMMessages(basePrompt)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})

	llmStart := time.Now()
	resp, err := c.chat.ChatWithFunctions(callCtx, messages, functions, basePrompt)
	c.metrics.RecordLLM(ctx, "chat", time.Since(llmStart), err)
	if err != nil {
		// The turn leaves no trace: no state mutation, no history entry.
		slog.Error("controller: model exchange failed",
			"session_id", c.sessionID, "err", err)
		if c.queue != nil {
			c.queue.Send(messaging.ErrorMessage("llm", err.Error()))
			c.queue.Send(messaging.TextMessage(unavailableNarrative))
		}
		c.speak(unavailableNarrative)
		return c.result(unavailableNarrative, ""), nil
	}

	narrative := resp.Content
	chosen := llm.NoActionName
	if resp.FunctionCall != nil {
		chosen = resp.FunctionCall.Name
	}

	executed := ""
	ok := true
	if chosen != llm.NoActionName {
		var msg string
		ok, msg = c.machine.Execute(chosen)
		if ok {
			executed = chosen
		} else {
			narrative += " (failed: " + msg + ")"
		}
		c.metrics.RecordAction(ctx, chosen, ok)
	}

	c.log.Append(history.Entry{
		Timestamp:  time.Now(),
		UserText:   userText,
		BasePrompt: basePrompt,
		Offered:    snapshotActions(offered),
		Narrative:  narrative,
		Chosen:     chosen,
		Success:    ok,
	})

	if c.queue != nil {
		c.queue.Send(messaging.TextMessage(narrative))
	}
	c.speak(narrative)

	return c.result(narrative, executed), nil
}

// result stamps the post-turn world onto the outgoing TurnResult.
func (c *Controller) result(narrative, executed string) *TurnResult {
	return &TurnResult{
		Narrative:      narrative,
		ExecutedAction: executed,
		CurrentState:   c.machine.CurrentStateName(),
		Inventory:      c.inventory.ToMap(),
	}
}

// renderBasePrompt joins the narrator identity, the behaviour block, and the
// current state's rendered description. The description sees the live
// inventory, so "{{ coins }} coins" is always current.
func (c *Controller) renderBasePrompt() string {
	parts := make([]string, 0, 3)
	if c.identity != "" {
		parts = append(parts, c.identity)
	}
	if c.behaviour != "" {
		parts = append(parts, c.behaviour)
	}
	if desc := c.machine.CurrentState().RenderDescription(c.inventory.ToMap()); desc != "" {
		parts = append(parts, desc)
	}
	return strings.Join(parts, "\n\n")
}

// toFunctions converts the offered actions into the model's function
// catalogue, always closed by the no_action sentinel.
func (c *Controller) toFunctions(offered []*statemachine.Action) []llm.Function {
	out := make([]llm.Function, 0, len(offered)+1)
	for _, a := range offered {
		desc := a.Prompts.Description
		if a.Prompts.AfterFire != "" {
			desc += "\n" + a.Prompts.AfterFire
		}
		out = append(out, llm.Function{Name: a.Name, Description: desc})
	}
	return append(out, llm.NoActionFunction())
}

// speak interrupts any running utterance and synthesises the narrative in the
// background. The turn's return value never waits for audio.
func (c *Controller) speak(narrative string) {
	if c.speech == nil || narrative == "" {
		return
	}
	c.speech.Stop(c.sessionID)
	go func() {
		start := time.Now()
		err := c.speech.Speak(context.Background(), c.sessionID, narrative)
		c.metrics.RecordTTS(context.Background(), "tts", time.Since(start), err)
		if err != nil {
			slog.Warn("controller: speech synthesis failed",
				"session_id", c.sessionID, "err", err)
		}
	}()
}

func snapshotActions(offered []*statemachine.Action) []history.OfferedAction {
	out := make([]history.OfferedAction, len(offered))
	for i, a := range offered {
		out[i] = history.OfferedAction{Name: a.Name, Description: a.Prompts.Description}
	}
	return out
}
