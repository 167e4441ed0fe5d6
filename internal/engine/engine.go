// Package engine is the one-stop façade over a session's game: it compiles a
// bundle into inventory, state machine, and controller, and exposes the small
// surface transports and authoring tools talk to.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"fabula/internal/controller"
	"fabula/internal/gamedef"
	"fabula/internal/inventory"
	"fabula/internal/messaging"
	"fabula/internal/observe"
	"fabula/internal/statemachine"
	"fabula/pkg/audio"
	"fabula/pkg/provider/tts"
)

// suggestionThreshold is the minimum Jaro-Winkler similarity for a state name
// to be offered as a "did you mean" candidate.
const suggestionThreshold = 0.8

// Config assembles an Engine. Model and Chat are required; everything else
// degrades gracefully when absent.
type Config struct {
	SessionID string

	// Model is the game's model document.
	Model *gamedef.Model

	// GameConfig is the game's optional config document.
	GameConfig *gamedef.Config

	// Chat is the model client, typically a resilience.ChatGroup.
	Chat controller.Chatter

	// Speech is optional; when nil narratives are not spoken.
	Speech tts.Provider

	// Jukebox receives ambient and effect dispatches. May be nil.
	Jukebox audio.Jukebox

	// Queue receives outbound events. May be nil.
	Queue messaging.Queue

	// Metrics may be nil.
	Metrics *observe.Metrics

	// Timeout bounds the model exchange per turn.
	Timeout time.Duration

	// HistoryLength caps the turn log.
	HistoryLength int
}

// Status is the authoring snapshot of a running game.
type Status struct {
	CurrentState     string         `json:"current_state"`
	Inventory        map[string]any `json:"inventory"`
	AvailableStates  []string       `json:"available_states"`
	AvailableActions []string       `json:"available_actions"`
}

// Engine owns the per-session game components and rebuilds them on hot
// reload. Turns and authoring calls are confined to the session goroutine;
// only [Engine.Status] and [Engine.CurrentState] may be called from other
// goroutines, they read a snapshot and never touch the session's sandbox.
type Engine struct {
	sessionID string
	chat      controller.Chatter
	speech    tts.Provider
	jukebox   audio.Jukebox
	queue     messaging.Queue
	metrics   *observe.Metrics
	timeout   time.Duration
	histLen   int

	def     *gamedef.Definition
	inv     *inventory.Inventory
	machine *statemachine.Machine
	ctrl    *controller.Controller

	statusMu sync.Mutex
	status   Status
}

// New compiles the bundle and wires the full component stack.
func New(cfg Config) (*Engine, error) {
	if cfg.Chat == nil {
		return nil, fmt.Errorf("engine: model client is required")
	}
	e := &Engine{
		sessionID: cfg.SessionID,
		chat:      cfg.Chat,
		speech:    cfg.Speech,
		jukebox:   cfg.Jukebox,
		queue:     cfg.Queue,
		metrics:   cfg.Metrics,
		timeout:   cfg.Timeout,
		histLen:   cfg.HistoryLength,
	}
	if err := e.build(cfg.Model, cfg.GameConfig); err != nil {
		return nil, err
	}
	return e, nil
}

// build compiles the documents and replaces the live component stack. On any
// error the previous stack stays untouched.
func (e *Engine) build(model *gamedef.Model, gameCfg *gamedef.Config) error {
	def, err := gamedef.Compile(model, gameCfg)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	inv, err := inventory.New(e.queue, def.Inventory)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	machine, err := statemachine.New(statemachine.Config{
		SessionID:    e.sessionID,
		States:       def.States,
		Actions:      def.Actions,
		InitialState: def.InitialState,
		Evaluator:    inv,
		Jukebox:      e.jukebox,
		Queue:        e.queue,
	})
	if err != nil {
		inv.Close()
		return fmt.Errorf("engine: %w", err)
	}

	ctrl, err := controller.New(controller.Config{
		SessionID:     e.sessionID,
		Identity:      def.Identity,
		Behaviour:     def.Behaviour,
		WelcomePrompt: def.WelcomePrompt,
		Machine:       machine,
		Inventory:     inv,
		Chat:          e.chat,
		Speech:        e.speech,
		Queue:         e.queue,
		Metrics:       e.metrics,
		Timeout:       e.timeout,
		HistoryLength: e.histLen,
	})
	if err != nil {
		inv.Close()
		return fmt.Errorf("engine: %w", err)
	}

	if e.inv != nil {
		e.inv.Close()
	}
	e.def = def
	e.inv = inv
	e.machine = machine
	e.ctrl = ctrl
	e.refreshStatus()
	return nil
}

// Close releases the engine's resources and silences its audio.
func (e *Engine) Close() {
	if e.speech != nil {
		e.speech.Stop(e.sessionID)
	}
	if e.jukebox != nil {
		e.jukebox.StopAll(e.sessionID)
	}
	e.inv.Close()
}

// StartGame begins the session's story.
func (e *Engine) StartGame(ctx context.Context) (*controller.TurnResult, error) {
	res, err := e.ctrl.StartGame(ctx)
	if err != nil {
		return nil, err
	}
	e.refreshStatus()
	return res, nil
}

// ProcessInput runs one turn of player input.
func (e *Engine) ProcessInput(ctx context.Context, text string) (*controller.TurnResult, error) {
	res, err := e.ctrl.ProcessTurn(ctx, text)
	if err != nil {
		return nil, err
	}
	e.refreshStatus()
	return res, nil
}

// Reinitialize hot-swaps the game definition without tearing the session
// down. The component stack is rebuilt and the history starts fresh; the
// session's transport, queue, and providers carry over.
func (e *Engine) Reinitialize(model *gamedef.Model, gameCfg *gamedef.Config) error {
	return e.build(model, gameCfg)
}

// SetState is the authoring hook behind the editor's state jump. When model
// is non-nil the definition is hot-reloaded first; then the game is forced
// into the named state and the history cleared so the model does not narrate
// from a world it never saw.
func (e *Engine) SetState(name string, model *gamedef.Model, gameCfg *gamedef.Config) error {
	if model != nil {
		if err := e.Reinitialize(model, gameCfg); err != nil {
			return err
		}
	}
	if err := e.machine.ForceState(name); err != nil {
		if suggestion := e.closestState(name); suggestion != "" {
			return fmt.Errorf("engine: unknown state %q, did you mean %q", name, suggestion)
		}
		return fmt.Errorf("engine: unknown state %q", name)
	}
	e.ctrl.ClearHistory()
	e.refreshStatus()
	return nil
}

// SetInventory is the authoring hook for poking a variable directly.
func (e *Engine) SetInventory(key string, value any) error {
	if err := e.inv.Set(key, value); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if e.queue != nil {
		e.queue.Send(messaging.InventoryMessage(e.inv.ToMap()))
	}
	e.refreshStatus()
	return nil
}

// Status reports the running game for the authoring tool. It serves the
// snapshot taken after the last completed turn or authoring call, so it is
// safe to call from any goroutine while a turn is in flight.
func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

// CurrentState returns the name of the state the game is in. Like Status it
// reads the snapshot and is safe from any goroutine.
func (e *Engine) CurrentState() string {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status.CurrentState
}

// refreshStatus recomputes the authoring snapshot. It runs on the session
// goroutine after every turn and mutation; action conditions are evaluated
// here so Status never drives the Lua sandbox from another goroutine.
func (e *Engine) refreshStatus() {
	actions := e.machine.AvailableActions()
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.Name
	}
	snap := Status{
		CurrentState:     e.machine.CurrentStateName(),
		Inventory:        e.inv.ToMap(),
		AvailableStates:  e.machine.StateNames(),
		AvailableActions: names,
	}
	e.statusMu.Lock()
	e.status = snap
	e.statusMu.Unlock()
}

// closestState returns the best fuzzy match for a misspelled state name, or
// empty when nothing comes close.
func (e *Engine) closestState(name string) string {
	best := ""
	bestScore := suggestionThreshold
	for _, candidate := range e.machine.StateNames() {
		if score := matchr.JaroWinkler(name, candidate, false); score >= bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best
}
