package statemachine

import (
	"errors"
	"fmt"
)

// Kind distinguishes the two action flavours. A Trigger fires inside one
// state and leaves it unchanged; a Transition moves the game to a different
// state.
type Kind string

const (
	KindTrigger    Kind = "trigger"
	KindTransition Kind = "transition"
)

// IsValid reports whether the kind is one of the defined constants.
func (k Kind) IsValid() bool {
	switch k {
	case KindTrigger, KindTransition:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// SoundEffect is a one-shot sound played when an action fires.
type SoundEffect struct {
	// File is the sound file path relative to the sound directory.
	File string

	// Volume is the playback volume in the range [0, 100].
	Volume int

	// Duration caps playback in seconds. Zero plays the file in full.
	Duration float64
}

// Prompts carries the narrative text attached to an action.
type Prompts struct {
	// Description tells the model what the action represents. It is the text
	// the model sees when deciding whether to pick the action.
	Description string

	// AfterFire is appended to the model's instructions once the action has
	// fired, steering the narration of the outcome.
	AfterFire string
}

// Action is something the model may choose to do on the player's behalf.
// Actions are created at load time and immutable afterwards.
type Action struct {
	// Kind is KindTrigger or KindTransition.
	Kind Kind

	// Name uniquely identifies the action within one game definition. It is
	// the handle the model selects by, so it must survive a round trip through
	// a function-calling API unchanged.
	Name string

	// StateBefore is the state the game must be in for the action to exist.
	StateBefore string

	// StateAfter is the state the game ends up in after a Transition fires.
	// For a Trigger it equals StateBefore.
	StateAfter string

	// Prompts is the narrative text attached to the action.
	Prompts Prompts

	// Conditions are Lua expressions that must all evaluate truthy for the
	// action to be offered. An empty condition is vacuously true.
	Conditions []string

	// Scripts are Lua statements executed in order when the action fires.
	Scripts []string

	// Sound is a one-shot effect played when the action fires, or nil.
	Sound *SoundEffect
}

// NewTrigger creates an in-state action bound to state.
func NewTrigger(state, name string, prompts Prompts, conditions, scripts []string, sound *SoundEffect) (*Action, error) {
	if state == "" || name == "" {
		return nil, errors.New("statemachine: trigger needs a state and a name")
	}
	return &Action{
		Kind:        KindTrigger,
		Name:        name,
		StateBefore: state,
		StateAfter:  state,
		Prompts:     prompts,
		Conditions:  conditions,
		Scripts:     scripts,
		Sound:       sound,
	}, nil
}

// NewTransition creates an action that moves the game from before to after.
// The two states must differ; a same-state connection is a Trigger, not a
// degenerate Transition.
func NewTransition(before, after, name string, prompts Prompts, conditions, scripts []string, sound *SoundEffect) (*Action, error) {
	if before == "" || after == "" || name == "" {
		return nil, errors.New("statemachine: transition needs two states and a name")
	}
	if before == after {
		return nil, fmt.Errorf("statemachine: transition %q maps state %q onto itself", name, before)
	}
	return &Action{
		Kind:        KindTransition,
		Name:        name,
		StateBefore: before,
		StateAfter:  after,
		Prompts:     prompts,
		Conditions:  conditions,
		Scripts:     scripts,
		Sound:       sound,
	}, nil
}

// Matches reports whether the action exists in the given state.
func (a *Action) Matches(current string) bool {
	return a.StateBefore == current
}
