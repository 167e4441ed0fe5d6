// Package messaging defines the outbound event channel between the game core
// and whatever transport delivers events to the client (WebSocket, console, …).
//
// The core never talks to a socket directly: it hands typed messages to a
// [Queue] and moves on. Delivery order within one session is the enqueue
// order; implementations must preserve it.
package messaging

import "encoding/json"

// Type discriminates the payload of a [Message] on the wire.
type Type string

const (
	// TypeText carries a narrative string for the player.
	TypeText Type = "text"

	// TypeInventory carries the full current variable map.
	TypeInventory Type = "inventory"

	// TypeStateChange announces a completed transition between two states.
	TypeStateChange Type = "state_change"

	// TypeSoundEffect requests one-shot playback of an effect file.
	TypeSoundEffect Type = "sound_effect"

	// TypeAmbient starts or stops the looping ambient track. A nil/empty File
	// means stop.
	TypeAmbient Type = "ambient_sound"

	// TypeError reports a non-fatal engine error to the client.
	TypeError Type = "error"
)

// Message is a single outbound event. Exactly one payload field is set,
// matching Type.
type Message struct {
	Type Type `json:"type"`

	// Text is set for TypeText.
	Text string `json:"text,omitempty"`

	// Inventory is set for TypeInventory: the full authoritative variable map.
	Inventory map[string]any `json:"inventory,omitempty"`

	// StateChange is set for TypeStateChange.
	StateChange *StateChange `json:"state_change,omitempty"`

	// Sound is set for TypeSoundEffect and TypeAmbient.
	Sound *Sound `json:"sound,omitempty"`

	// Error is set for TypeError.
	Error *Error `json:"error,omitempty"`
}

// StateChange describes a completed state transition.
type StateChange struct {
	// Previous is the state name before the transition fired.
	Previous string `json:"previous"`

	// Current is the state name after the transition fired.
	Current string `json:"current"`

	// Action is the name of the transition that moved us.
	Action string `json:"action"`
}

// Sound describes a playback request.
type Sound struct {
	// File is the sound file path relative to the sound directory.
	// Empty on an ambient message means "stop the ambient track".
	File string `json:"file,omitempty"`

	// Volume is the playback volume in the range [0, 100].
	Volume int `json:"volume"`

	// Loop requests looping playback (ambient tracks).
	Loop bool `json:"loop,omitempty"`

	// Duration caps playback length in seconds. Zero means play in full.
	Duration float64 `json:"duration,omitempty"`
}

// Error is a structured non-fatal error report.
type Error struct {
	// Kind is a stable machine-readable error category (e.g. "llm_timeout").
	Kind string `json:"kind"`

	// Details is a human-readable description.
	Details string `json:"details"`
}

// Encode produces the canonical JSON wire form used by transports.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Queue accepts outbound messages for one session. Implementations must be
// safe for concurrent use and must preserve enqueue order per session.
type Queue interface {
	// Send enqueues msg for delivery. Send must not block on slow clients;
	// implementations drop or buffer as they see fit.
	Send(msg Message)
}

// Convenience constructors keep call sites terse.

// TextMessage builds a TypeText message.
func TextMessage(text string) Message {
	return Message{Type: TypeText, Text: text}
}

// InventoryMessage builds a TypeInventory message carrying a snapshot of vars.
func InventoryMessage(vars map[string]any) Message {
	return Message{Type: TypeInventory, Inventory: vars}
}

// StateChangeMessage builds a TypeStateChange message.
func StateChangeMessage(previous, current, action string) Message {
	return Message{Type: TypeStateChange, StateChange: &StateChange{
		Previous: previous,
		Current:  current,
		Action:   action,
	}}
}

// SoundEffectMessage builds a one-shot TypeSoundEffect message.
func SoundEffectMessage(file string, volume int, duration float64) Message {
	return Message{Type: TypeSoundEffect, Sound: &Sound{
		File:     file,
		Volume:   volume,
		Duration: duration,
	}}
}

// AmbientMessage builds a TypeAmbient message. An empty file stops the
// current ambient track.
func AmbientMessage(file string, volume int) Message {
	return Message{Type: TypeAmbient, Sound: &Sound{
		File:   file,
		Volume: volume,
		Loop:   file != "",
	}}
}

// ErrorMessage builds a TypeError message.
func ErrorMessage(kind, details string) Message {
	return Message{Type: TypeError, Error: &Error{Kind: kind, Details: details}}
}
