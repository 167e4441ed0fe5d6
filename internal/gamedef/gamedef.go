// Package gamedef loads declarative game bundles and compiles them into the
// in-memory model the engine runs on.
//
// A bundle is what the authoring tool exports: a model document (states with
// their internal triggers, plus the connections between states) and an
// optional config document (personality, welcome prompt, initial inventory).
// Both documents are YAML; since YAML is a JSON superset the editor's .json
// exports load unchanged. Loading is lenient about extra keys because editor
// exports carry canvas geometry alongside the game data; validation of the
// game data itself is strict.
package gamedef

import (
	"errors"
	"fmt"

	"fabula/internal/statemachine"
)

// defaultBehaviour constrains the model to the defined action catalogue.
// Every game gets it; the personality text is layered on top.
const defaultBehaviour = "IMPORTANT: You may only use the explicitly defined actions. Never invent actions of your own."

// defaultVolume applies when a sound is configured without a volume.
const defaultVolume = 100

// startStateType marks the state the game begins in.
const startStateType = "START"

// Definition is a fully validated, ready-to-run game.
type Definition struct {
	// Identity is the narrator personality prompt.
	Identity string

	// Behaviour is the non-negotiable instruction suffix appended to the
	// identity in every system prompt.
	Behaviour string

	// WelcomePrompt is the synthetic first user message that opens the game.
	WelcomePrompt string

	// InitialState names the single state flagged as start.
	InitialState string

	// States in document order.
	States []*statemachine.State

	// Actions in document order: connection actions first, then the internal
	// triggers of each state.
	Actions []*statemachine.Action

	// Inventory is the initial variable map.
	Inventory map[string]any
}

// Compile turns raw bundle documents into a validated [Definition].
// All structural problems are reported together via errors.Join, so an author
// fixes the whole bundle in one round instead of error by error.
func Compile(model *Model, config *Config) (*Definition, error) {
	if model == nil {
		return nil, errors.New("gamedef: model must not be nil")
	}
	if config == nil {
		config = &Config{}
	}

	var errs []error

	def := &Definition{
		Identity:      config.Personality,
		Behaviour:     defaultBehaviour,
		WelcomePrompt: config.WelcomePrompt,
		Inventory:     make(map[string]any, len(config.Inventory)),
	}
	for _, item := range config.Inventory {
		if item.Key == "" {
			errs = append(errs, errors.New("gamedef: inventory item without a key"))
			continue
		}
		def.Inventory[item.Key] = item.Value
	}

	// States first: build the id→name map the connections resolve against.
	nameByID := make(map[string]string, len(model.States))
	var startCount int
	for _, entry := range model.States {
		st := entry.State
		if st.Name == "" {
			errs = append(errs, fmt.Errorf("gamedef: state %q has no name", entry.ID))
			continue
		}
		if _, dup := nameByID[entry.ID]; dup {
			errs = append(errs, fmt.Errorf("gamedef: duplicate state id %q", entry.ID))
			continue
		}
		nameByID[entry.ID] = st.Name

		compiled := &statemachine.State{
			Name:        st.Name,
			Description: st.UserData.SystemPrompt,
		}
		if st.UserData.AmbientSound != "" {
			compiled.Ambient = &statemachine.Ambient{
				File:   st.UserData.AmbientSound,
				Volume: volumeOrDefault(st.UserData.AmbientSoundVolume),
			}
		}
		def.States = append(def.States, compiled)

		if st.StateType == startStateType {
			startCount++
			def.InitialState = st.Name
		}
	}

	switch {
	case startCount == 0:
		errs = append(errs, errors.New("gamedef: no state is flagged as start"))
	case startCount > 1:
		errs = append(errs, fmt.Errorf("gamedef: %d states are flagged as start, want exactly one", startCount))
	}

	seenActions := make(map[string]struct{})
	addAction := func(a *statemachine.Action, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		if _, dup := seenActions[a.Name]; dup {
			errs = append(errs, fmt.Errorf("gamedef: duplicate action name %q", a.Name))
			return
		}
		seenActions[a.Name] = struct{}{}
		def.Actions = append(def.Actions, a)
	}

	// Connections become Transitions, or Triggers when they loop back to
	// their own state.
	for _, entry := range model.Connections {
		conn := entry.Connection
		if conn.Name == "" {
			errs = append(errs, fmt.Errorf("gamedef: connection %q has no name", entry.ID))
			continue
		}
		source, okSource := nameByID[conn.Source.Node]
		target, okTarget := nameByID[conn.Target.Node]
		if !okSource || !okTarget {
			errs = append(errs, fmt.Errorf("gamedef: connection %q references an undefined state", conn.Name))
			continue
		}

		prompts := statemachine.Prompts{
			Description: fallback(conn.UserData.Description, conn.Name),
			AfterFire:   conn.UserData.SystemPrompt,
		}
		sound := soundEffect(conn.UserData.SoundEffect, conn.UserData.SoundEffectVolume, conn.UserData.SoundEffectDuration)
		if source == target {
			addAction(statemachine.NewTrigger(source, conn.Name, prompts, conn.UserData.Conditions, conn.UserData.Actions, sound))
		} else {
			addAction(statemachine.NewTransition(source, target, conn.Name, prompts, conn.UserData.Conditions, conn.UserData.Actions, sound))
		}
	}

	// Internal triggers live on their state and never change it.
	for _, entry := range model.States {
		st := entry.State
		if st.Name == "" {
			continue
		}
		for _, trg := range st.Triggers {
			if trg.Name == "" {
				errs = append(errs, fmt.Errorf("gamedef: state %q has a trigger without a name", st.Name))
				continue
			}
			prompts := statemachine.Prompts{
				Description: fallback(trg.Description, trg.Name),
				AfterFire:   trg.SystemPrompt,
			}
			sound := soundEffect(trg.SoundEffect, trg.SoundEffectVolume, trg.SoundEffectDuration)
			addAction(statemachine.NewTrigger(st.Name, trg.Name, prompts, trg.Conditions, trg.Actions, sound))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return def, nil
}

func volumeOrDefault(v *int) int {
	if v == nil {
		return defaultVolume
	}
	return *v
}

func fallback(s, alt string) string {
	if s == "" {
		return alt
	}
	return s
}

func soundEffect(file string, volume *int, duration float64) *statemachine.SoundEffect {
	if file == "" {
		return nil
	}
	return &statemachine.SoundEffect{
		File:     file,
		Volume:   volumeOrDefault(volume),
		Duration: duration,
	}
}
