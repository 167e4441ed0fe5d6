// Package jukebox implements the audio.Jukebox plug on top of the outbound
// message queue: instead of touching a sound card, every play and stop call
// becomes a typed message the client's own player interprets. This is the
// jukebox used for browser-connected sessions.
package jukebox

import (
	"fabula/internal/messaging"
	"fabula/pkg/audio"
)

// Compile-time interface check.
var _ audio.Jukebox = (*Web)(nil)

// Web translates jukebox calls into messaging events. The session ID
// parameters are accepted for interface compatibility but unused: a Web
// jukebox is constructed per session around that session's queue.
type Web struct {
	queue messaging.Queue
}

// NewWeb creates a Web jukebox bound to a session's outbound queue.
func NewWeb(queue messaging.Queue) *Web {
	return &Web{queue: queue}
}

// PlaySound implements audio.Jukebox. Looping playback is announced as the
// new ambient track, one-shot playback as a sound effect.
func (w *Web) PlaySound(_, file string, volume int, loop bool, duration float64) {
	if loop {
		w.queue.Send(messaging.AmbientMessage(file, volume))
		return
	}
	w.queue.Send(messaging.SoundEffectMessage(file, volume, duration))
}

// StopAmbient implements audio.Jukebox.
func (w *Web) StopAmbient(string) {
	w.queue.Send(messaging.AmbientMessage("", 0))
}

// StopAll implements audio.Jukebox. The client treats an empty ambient
// message as "silence everything"; one-shot effects are short enough that no
// dedicated stop message exists.
func (w *Web) StopAll(string) {
	w.queue.Send(messaging.AmbientMessage("", 0))
}
