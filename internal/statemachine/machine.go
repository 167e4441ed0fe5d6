// Package statemachine drives the game graph: states, the actions between
// them, and the rules deciding which actions the model may pick at any
// moment. The machine owns no variables itself; conditions and scripts are
// delegated to an [Evaluator] so the package stays free of any scripting
// dependency.
package statemachine

import (
	"fmt"
	"log/slog"

	"fabula/internal/messaging"
	"fabula/pkg/audio"
)

// Evaluator decides action conditions and runs action scripts. In production
// this is the session's inventory; tests substitute a stub.
type Evaluator interface {
	// EvaluateCondition reports whether a Lua expression holds. Blank
	// expressions are vacuously true; evaluation errors count as false.
	EvaluateCondition(expr string) bool

	// ExecuteScripts runs a batch of Lua statements, best effort.
	ExecuteScripts(scripts []string)
}

// Hook inspects an action about to fire and may veto it by returning false.
// Hooks run in registration order; the first veto wins and no later hook
// runs. A vetoed action fires no scripts and changes no state.
type Hook func(action *Action) bool

// Config assembles a Machine. States and Actions keep their slice order;
// that order is the order actions are offered to the model in.
type Config struct {
	// SessionID tags audio dispatches with the owning session.
	SessionID string

	// States is the full state list. Names must be unique.
	States []*State

	// Actions is the full action list. Names must be unique and endpoints
	// must name defined states.
	Actions []*Action

	// InitialState is the state the game starts in.
	InitialState string

	// Evaluator decides conditions and runs scripts. Required.
	Evaluator Evaluator

	// Jukebox receives sound dispatches. May be nil to disable audio.
	Jukebox audio.Jukebox

	// Queue receives state change events. May be nil.
	Queue messaging.Queue
}

// Machine is the per-session state machine. Like every other per-session
// component it is confined to the session goroutine and needs no locking.
type Machine struct {
	sessionID string
	states    map[string]*State
	order     []string
	actions   []*Action
	hooks     []Hook
	eval      Evaluator
	jukebox   audio.Jukebox
	queue     messaging.Queue
	current   string
}

// New validates cfg and builds the machine positioned on the initial state.
func New(cfg Config) (*Machine, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("statemachine: evaluator is required")
	}
	if len(cfg.States) == 0 {
		return nil, fmt.Errorf("statemachine: no states defined")
	}

	states := make(map[string]*State, len(cfg.States))
	order := make([]string, 0, len(cfg.States))
	for _, st := range cfg.States {
		if _, dup := states[st.Name]; dup {
			return nil, fmt.Errorf("statemachine: duplicate state %q", st.Name)
		}
		states[st.Name] = st
		order = append(order, st.Name)
	}
	if _, ok := states[cfg.InitialState]; !ok {
		return nil, fmt.Errorf("statemachine: initial state %q is not defined", cfg.InitialState)
	}

	seen := make(map[string]struct{}, len(cfg.Actions))
	for _, a := range cfg.Actions {
		if !a.Kind.IsValid() {
			return nil, fmt.Errorf("statemachine: action %q has invalid kind %q", a.Name, a.Kind)
		}
		if _, dup := seen[a.Name]; dup {
			return nil, fmt.Errorf("statemachine: duplicate action %q", a.Name)
		}
		seen[a.Name] = struct{}{}
		if _, ok := states[a.StateBefore]; !ok {
			return nil, fmt.Errorf("statemachine: action %q starts in undefined state %q", a.Name, a.StateBefore)
		}
		if _, ok := states[a.StateAfter]; !ok {
			return nil, fmt.Errorf("statemachine: action %q ends in undefined state %q", a.Name, a.StateAfter)
		}
	}

	return &Machine{
		sessionID: cfg.SessionID,
		states:    states,
		order:     order,
		actions:   cfg.Actions,
		eval:      cfg.Evaluator,
		jukebox:   cfg.Jukebox,
		queue:     cfg.Queue,
		current:   cfg.InitialState,
	}, nil
}

// AddHook appends a veto hook. Hooks registered earlier run earlier.
func (m *Machine) AddHook(h Hook) {
	m.hooks = append(m.hooks, h)
}

// CurrentState returns the state the game is in.
func (m *Machine) CurrentState() *State {
	return m.states[m.current]
}

// CurrentStateName returns the name of the state the game is in.
func (m *Machine) CurrentStateName() string {
	return m.current
}

// State looks up a state by name.
func (m *Machine) State(name string) (*State, bool) {
	st, ok := m.states[name]
	return st, ok
}

// StateNames lists all state names in definition order.
func (m *Machine) StateNames() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Actions returns every defined action regardless of state or conditions.
func (m *Machine) Actions() []*Action {
	return m.actions
}

// AvailableActions returns the actions the model may pick right now: those
// anchored in the current state whose conditions all hold, in definition
// order. The result is freshly computed on every call, so a script that flips
// a variable changes the very next answer.
func (m *Machine) AvailableActions() []*Action {
	var out []*Action
	for _, a := range m.actions {
		if !a.Matches(m.current) {
			continue
		}
		if !m.conditionsHold(a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (m *Machine) conditionsHold(a *Action) bool {
	for _, cond := range a.Conditions {
		if !m.eval.EvaluateCondition(cond) {
			return false
		}
	}
	return true
}

// Execute fires the named action. The action must currently be available;
// a name the model hallucinated, an action of another state, and an action
// whose conditions just stopped holding are all rejected the same way. The
// returned message describes the outcome either way and feeds the model's
// function response.
//
// A successful fire runs in a fixed order: hook chain, scripts, state
// mutation, audio, state change event. Any hook veto aborts before the
// scripts, so a vetoed action leaves no trace.
func (m *Machine) Execute(name string) (bool, string) {
	var action *Action
	for _, a := range m.AvailableActions() {
		if a.Name == name {
			action = a
			break
		}
	}
	if action == nil {
		return false, fmt.Sprintf("action %q is not available in the current state", name)
	}

	for _, h := range m.hooks {
		if !h(action) {
			slog.Debug("statemachine: action vetoed by hook",
				"session_id", m.sessionID, "action", name)
			return false, fmt.Sprintf("action %q was blocked", name)
		}
	}

	previous := m.current
	m.eval.ExecuteScripts(action.Scripts)
	if action.Kind == KindTransition {
		m.current = action.StateAfter
	}

	m.dispatchAudio(action, previous)

	if m.current != previous {
		slog.Info("statemachine: state changed",
			"session_id", m.sessionID, "from", previous, "to", m.current, "action", name)
		if m.queue != nil {
			m.queue.Send(messaging.StateChangeMessage(previous, m.current, name))
		}
		return true, fmt.Sprintf("action %q succeeded, the game moved from %q to %q", name, previous, m.current)
	}
	return true, fmt.Sprintf("action %q succeeded in state %q", name, m.current)
}

// ForceState moves the game to the named state without firing any action.
// This is the authoring escape hatch: no hooks, no scripts, no state change
// event, but the ambient track follows the new state so the scene sounds
// right immediately.
func (m *Machine) ForceState(name string) error {
	st, ok := m.states[name]
	if !ok {
		return fmt.Errorf("statemachine: unknown state %q", name)
	}
	if name == m.current {
		return nil
	}
	m.current = name
	if m.jukebox != nil {
		m.jukebox.StopAmbient(m.sessionID)
		if st.Ambient != nil {
			m.jukebox.PlaySound(m.sessionID, st.Ambient.File, st.Ambient.Volume, true, 0)
		}
	}
	return nil
}

// StartAmbient begins the current state's ambient track, if it has one.
// Called once when a game starts; afterwards Execute keeps the track in sync.
func (m *Machine) StartAmbient() {
	if m.jukebox == nil {
		return
	}
	if amb := m.states[m.current].Ambient; amb != nil {
		m.jukebox.PlaySound(m.sessionID, amb.File, amb.Volume, true, 0)
	}
}

// dispatchAudio plays the action's effect and, when the state changed, swaps
// the ambient track. Effects always fire before the ambient swap so a door
// creak is heard over the old room's atmosphere.
func (m *Machine) dispatchAudio(action *Action, previous string) {
	if m.jukebox == nil {
		return
	}
	if s := action.Sound; s != nil {
		m.jukebox.PlaySound(m.sessionID, s.File, s.Volume, false, s.Duration)
	}
	if m.current == previous {
		return
	}
	m.jukebox.StopAmbient(m.sessionID)
	if amb := m.states[m.current].Ambient; amb != nil {
		m.jukebox.PlaySound(m.sessionID, amb.File, amb.Volume, true, 0)
	}
}
