package jukebox_test

import (
	"testing"

	"fabula/internal/jukebox"
	"fabula/internal/messaging"
	msgmock "fabula/internal/messaging/mock"
)

func TestPlaySoundLoopBecomesAmbient(t *testing.T) {
	queue := &msgmock.Queue{}
	jb := jukebox.NewWeb(queue)

	jb.PlaySound("s", "cave.ogg", 40, true, 0)

	sent := queue.Sent()
	if len(sent) != 1 || sent[0].Type != messaging.TypeAmbient {
		t.Fatalf("sent = %+v", sent)
	}
	if s := sent[0].Sound; s.File != "cave.ogg" || s.Volume != 40 || !s.Loop {
		t.Fatalf("sound payload = %+v", s)
	}
}

func TestPlaySoundOneShotBecomesEffect(t *testing.T) {
	queue := &msgmock.Queue{}
	jb := jukebox.NewWeb(queue)

	jb.PlaySound("s", "creak.ogg", 70, false, 2.5)

	sent := queue.Sent()
	if len(sent) != 1 || sent[0].Type != messaging.TypeSoundEffect {
		t.Fatalf("sent = %+v", sent)
	}
	if s := sent[0].Sound; s.File != "creak.ogg" || s.Duration != 2.5 || s.Loop {
		t.Fatalf("sound payload = %+v", s)
	}
}

func TestStopsEmitEmptyAmbient(t *testing.T) {
	queue := &msgmock.Queue{}
	jb := jukebox.NewWeb(queue)

	jb.StopAmbient("s")
	jb.StopAll("s")

	sent := queue.SentOfType(messaging.TypeAmbient)
	if len(sent) != 2 {
		t.Fatalf("want two ambient messages, got %d", len(sent))
	}
	for _, m := range sent {
		if m.Sound.File != "" || m.Sound.Loop {
			t.Fatalf("stop payload = %+v", m.Sound)
		}
	}
}
