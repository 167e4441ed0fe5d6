package statemachine

import "fabula/internal/prompt"

// Ambient describes a state's looping background track.
type Ambient struct {
	// File is the sound file path relative to the sound directory.
	File string

	// Volume is the playback volume in the range [0, 100].
	Volume int
}

// State is a named location in the game graph. States are created at load
// time and immutable afterwards.
type State struct {
	// Name uniquely identifies the state within one game definition.
	Name string

	// Description is a narrative template in pongo2 syntax, rendered against
	// the current inventory before it reaches the model or the player.
	Description string

	// Ambient is the looping background track for this state, or nil.
	Ambient *Ambient
}

// RenderDescription expands the description template with vars as context.
// Rendering is failure-proof: on error the raw template is returned.
func (s *State) RenderDescription(vars map[string]any) string {
	return prompt.Render(s.Description, vars)
}
