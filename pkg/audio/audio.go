// Package audio defines the playback plug interfaces of the narrative engine.
//
// The engine produces two kinds of audio: spoken narrative (a byte stream
// from a TTS provider, delivered chunk-wise to a [Sink]) and game sounds
// (ambient loops and one-shot effects, requested through a [Jukebox]).
// Concrete implementations decide where the bytes end up — a local speaker,
// a WebSocket client, or nowhere at all in tests.
package audio

// Sink receives synthesised speech for one or more sessions as raw byte
// chunks. Implementations must be safe against concurrent Write and Close on
// the same session: a Close during an in-flight Write ends the stream, it
// does not panic.
type Sink interface {
	// Write delivers one chunk of audio for the given session. A write error
	// degrades silently at the call site — the chunk is dropped and logged.
	Write(sessionID string, chunk []byte) error

	// Close tears down the audio stream for the given session.
	Close(sessionID string) error
}

// Jukebox plays game sounds for a session. Implementations must tolerate
// redundant stop calls.
type Jukebox interface {
	// PlaySound starts playback of file at the given volume (0–100).
	// loop selects ambient semantics: the track repeats until StopAmbient or a
	// replacement ambient track starts. duration caps one-shot playback in
	// seconds; zero means play in full and is ignored for looping tracks.
	PlaySound(sessionID, file string, volume int, loop bool, duration float64)

	// StopAmbient stops the looping ambient track, if any.
	StopAmbient(sessionID string)

	// StopAll stops everything: ambient track and any playing effects.
	StopAll(sessionID string)
}
