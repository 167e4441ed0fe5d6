// Package history keeps the bounded, structured log of a session's turns.
//
// Each entry snapshots what the turn actually saw: the user's text, the base
// prompt of that moment, the actions on offer, and what the model did with
// them. The log is capped; old turns fall off the front. When the log is
// replayed to the model only the user and assistant text goes back out — the
// action catalogue is rebuilt fresh each turn from the current state, so the
// model never reasons against a stale action list.
package history

import (
	"time"

	"fabula/pkg/provider/llm"
)

// DefaultMaxLength is the turn cap when none is configured.
const DefaultMaxLength = 20

// OfferedAction snapshots one catalogue entry as it was offered.
type OfferedAction struct {
	Name        string
	Description string
}

// Entry is one completed turn.
type Entry struct {
	// Turn is the monotonic per-session turn number, starting at 1.
	Turn int

	// Timestamp is when the turn completed.
	Timestamp time.Time

	// UserText is the player's input that drove the turn.
	UserText string

	// BasePrompt is the system prompt of that turn, without function
	// instructions.
	BasePrompt string

	// Offered is the action catalogue of that turn.
	Offered []OfferedAction

	// Narrative is the text the model produced for the player.
	Narrative string

	// Chosen is the selected action name, possibly llm.NoActionName.
	Chosen string

	// Success reports whether the chosen action fired cleanly. True for
	// no_action turns.
	Success bool
}

// History is a bounded FIFO of entries. Like the rest of the per-session
// core it is confined to the session goroutine.
type History struct {
	max     int
	entries []Entry
	turns   int
}

// New creates a history capped at max entries. A non-positive max selects
// DefaultMaxLength.
func New(max int) *History {
	if max <= 0 {
		max = DefaultMaxLength
	}
	return &History{max: max}
}

// NextTurn returns the number the next appended turn will carry.
func (h *History) NextTurn() int {
	return h.turns + 1
}

// Append records a completed turn, assigning its turn number and evicting the
// oldest entry when the cap is exceeded.
func (h *History) Append(e Entry) {
	h.turns++
	e.Turn = h.turns
	h.entries = append(h.entries, e)
	if len(h.entries) > h.max {
		h.entries = h.entries[1:]
	}
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Entries returns a copy of the retained entries, oldest first.
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Clear drops all entries and resets the turn counter. Used when a game
// definition is hot-swapped under a running session.
func (h *History) Clear() {
	h.entries = nil
	h.turns = 0
}

// ToLLMMessages renders the log as a model conversation: the current base
// prompt as the system message, then a user/assistant pair per retained turn.
// The stored per-turn base prompts and action snapshots deliberately stay
// out; they exist for inspection and debugging, not for replay.
func (h *History) ToLLMMessages(basePrompt string) []llm.Message {
	out := make([]llm.Message, 0, 2*len(h.entries)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: basePrompt})
	for _, e := range h.entries {
		out = append(out,
			llm.Message{Role: llm.RoleUser, Content: e.UserText},
			llm.Message{Role: llm.RoleAssistant, Content: e.Narrative},
		)
	}
	return out
}
