package controller_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"fabula/internal/controller"
	"fabula/internal/inventory"
	webjukebox "fabula/internal/jukebox"
	"fabula/internal/messaging"
	msgmock "fabula/internal/messaging/mock"
	"fabula/internal/statemachine"
	audiomock "fabula/pkg/audio/mock"
	"fabula/pkg/provider/llm"
	llmmock "fabula/pkg/provider/llm/mock"
	ttsmock "fabula/pkg/provider/tts/mock"
)

// modelClient adapts the scripted provider to the controller's Chatter
// interface by running the real orchestration around it.
type modelClient struct {
	p llm.Provider
}

func (m modelClient) ChatWithFunctions(ctx context.Context, messages []llm.Message, functions []llm.Function, basePrompt string) (*llm.Response, error) {
	return llm.ChatWithFunctions(ctx, m.p, messages, functions, basePrompt)
}

// teeJukebox forwards every call to both the recording mock and the
// queue-backed web jukebox, so tests can observe calls while audio events
// still reach the outbound queue as they do in production.
type teeJukebox struct {
	mock *audiomock.Jukebox
	web  *webjukebox.Web
}

func (t teeJukebox) PlaySound(sessionID, file string, volume int, loop bool, duration float64) {
	t.mock.PlaySound(sessionID, file, volume, loop, duration)
	t.web.PlaySound(sessionID, file, volume, loop, duration)
}

func (t teeJukebox) StopAmbient(sessionID string) {
	t.mock.StopAmbient(sessionID)
	t.web.StopAmbient(sessionID)
}

func (t teeJukebox) StopAll(sessionID string) {
	t.mock.StopAll(sessionID)
	t.web.StopAll(sessionID)
}

// game bundles one fully wired session for tests.
type game struct {
	ctrl    *controller.Controller
	machine *statemachine.Machine
	inv     *inventory.Inventory
	queue   *msgmock.Queue
	jukebox *audiomock.Jukebox
	model   *llmmock.Provider
	speech  *ttsmock.Provider
}

// newTestGame builds a two-room game: a gate with a transition into a room,
// a forbidden lever, and a coin toss that burns inventory.
func newTestGame(t *testing.T, timeout time.Duration) *game {
	t.Helper()

	queue := &msgmock.Queue{}
	jukebox := &audiomock.Jukebox{}

	inv, err := inventory.New(queue, map[string]any{"coins": 2})
	if err != nil {
		t.Fatalf("inventory.New: %v", err)
	}
	t.Cleanup(inv.Close)

	states := []*statemachine.State{
		{Name: "gate", Description: "You stand before a gate holding {{ coins }} coins.",
			Ambient: &statemachine.Ambient{File: "wind.ogg", Volume: 30}},
		{Name: "room", Description: "A dim room.",
			Ambient: &statemachine.Ambient{File: "room.ogg", Volume: 40}},
	}

	goAction, err := statemachine.NewTransition("gate", "room", "go",
		statemachine.Prompts{Description: "Walk through the gate."},
		nil, nil, &statemachine.SoundEffect{File: "creak.ogg", Volume: 80})
	if err != nil {
		t.Fatal(err)
	}
	forbidden, err := statemachine.NewTrigger("gate", "forbidden",
		statemachine.Prompts{Description: "Pull the rusted lever."}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	toss, err := statemachine.NewTrigger("gate", "toss_coin",
		statemachine.Prompts{Description: "Toss a coin to the gatekeeper."},
		[]string{"coins > 0"}, []string{"coins = coins - 1"},
		&statemachine.SoundEffect{File: "clink.ogg", Volume: 60})
	if err != nil {
		t.Fatal(err)
	}

	machine, err := statemachine.New(statemachine.Config{
		SessionID:    "s1",
		States:       states,
		Actions:      []*statemachine.Action{goAction, forbidden, toss},
		InitialState: "gate",
		Evaluator:    inv,
		Jukebox:      teeJukebox{mock: jukebox, web: webjukebox.NewWeb(queue)},
		Queue:        queue,
	})
	if err != nil {
		t.Fatalf("statemachine.New: %v", err)
	}

	model := &llmmock.Provider{}
	speech := &ttsmock.Provider{}

	ctrl, err := controller.New(controller.Config{
		SessionID:     "s1",
		Identity:      "You are a grumpy gatekeeper narrating a dark tale.",
		Behaviour:     "Answer in two sentences at most.",
		WelcomePrompt: "Greet the traveller at the gate.",
		Machine:       machine,
		Inventory:     inv,
		Chat:          modelClient{p: model},
		Speech:        speech,
		Queue:         queue,
		Timeout:       timeout,
	})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}

	return &game{
		ctrl: ctrl, machine: machine, inv: inv,
		queue: queue, jukebox: jukebox, model: model, speech: speech,
	}
}

// ── construction ────────────────────────────────────────────────────

func TestNewValidation(t *testing.T) {
	if _, err := controller.New(controller.Config{}); err == nil {
		t.Error("expected error for missing state machine")
	}
}

// ── starting a game ─────────────────────────────────────────────────

func TestStartGame(t *testing.T) {
	g := newTestGame(t, 0)
	g.model.EnqueueSelection(llm.NoActionName, "Well, well. Another traveller.")

	res, err := g.ctrl.StartGame(context.Background())
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if res.Narrative != "Well, well. Another traveller." {
		t.Errorf("narrative = %q", res.Narrative)
	}

	// The welcome prompt went out as the first user message.
	call, ok := g.model.LastCall()
	if !ok {
		t.Fatal("model was never called")
	}
	last := call.Messages[len(call.Messages)-1]
	if last.Role != llm.RoleUser || last.Content != "Greet the traveller at the gate." {
		t.Errorf("last message = %+v, want the welcome prompt as user text", last)
	}

	// The gate's ambient track started.
	plays, _, _ := g.jukebox.Snapshot()
	if len(plays) == 0 || plays[0].File != "wind.ogg" || !plays[0].Loop {
		t.Errorf("ambient plays = %+v, want looping wind.ogg first", plays)
	}

	if g.ctrl.History().Len() != 1 {
		t.Errorf("history length = %d, want 1", g.ctrl.History().Len())
	}
}

// ── turn processing ─────────────────────────────────────────────────

func TestProcessTurnExecutesTransition(t *testing.T) {
	g := newTestGame(t, 0)
	g.model.EnqueueSelection("go", "You step into the dim room.")

	res, err := g.ctrl.ProcessTurn(context.Background(), "I walk through the gate")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.ExecutedAction != "go" {
		t.Errorf("executed = %q, want go", res.ExecutedAction)
	}
	if res.Narrative == "" {
		t.Error("narrative must not be empty")
	}
	if res.CurrentState != "room" {
		t.Errorf("result state = %q, want room", res.CurrentState)
	}
	if res.Inventory["coins"] != int64(2) {
		t.Errorf("result coins = %v, want 2", res.Inventory["coins"])
	}
	if g.machine.CurrentStateName() != "room" {
		t.Errorf("current state = %q, want room", g.machine.CurrentStateName())
	}

	changes := g.queue.SentOfType(messaging.TypeStateChange)
	if len(changes) != 1 {
		t.Fatalf("state change events = %d, want 1", len(changes))
	}
	sc := changes[0].StateChange
	if sc.Previous != "gate" || sc.Current != "room" || sc.Action != "go" {
		t.Errorf("state change = %+v", sc)
	}

	entries := g.ctrl.History().Entries()
	if len(entries) != 1 {
		t.Fatalf("history length = %d, want 1", len(entries))
	}
	if entries[0].Chosen != "go" || !entries[0].Success {
		t.Errorf("history entry = %+v, want chosen=go success=true", entries[0])
	}
}

func TestCatalogueOfferedToModel(t *testing.T) {
	g := newTestGame(t, 0)
	g.model.EnqueueSelection(llm.NoActionName, "Nothing happens.")

	if _, err := g.ctrl.ProcessTurn(context.Background(), "look around"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	call, ok := g.model.LastCall()
	if !ok {
		t.Fatal("model was never called")
	}
	var names []string
	for _, f := range call.Functions {
		names = append(names, f.Name)
	}
	want := []string{"go", "forbidden", "toss_coin", llm.NoActionName}
	if len(names) != len(want) {
		t.Fatalf("offered functions = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("offered functions = %v, want %v", names, want)
		}
	}
}

func TestBasePromptCarriesRenderedDescription(t *testing.T) {
	g := newTestGame(t, 0)
	g.model.EnqueueSelection(llm.NoActionName, "Nothing happens.")

	if _, err := g.ctrl.ProcessTurn(context.Background(), "look"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	call, _ := g.model.LastCall()
	system := call.Messages[0]
	if system.Role != llm.RoleSystem {
		t.Fatalf("first message role = %q, want system", system.Role)
	}
	if !strings.Contains(system.Content, "grumpy gatekeeper") {
		t.Error("system prompt is missing the narrator identity")
	}
	if !strings.Contains(system.Content, "holding 2 coins") {
		t.Errorf("system prompt did not render the state description, got %q", system.Content)
	}
}

func TestScriptsMutateInventoryBeforeSound(t *testing.T) {
	g := newTestGame(t, 0)
	g.model.EnqueueSelection("toss_coin", "The gatekeeper catches the coin.")

	res, err := g.ctrl.ProcessTurn(context.Background(), "toss him a coin")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	coins, _ := g.inv.Get("coins")
	if coins != int64(1) {
		t.Errorf("coins = %v, want 1", coins)
	}
	if res.Inventory["coins"] != int64(1) {
		t.Errorf("result coins = %v, want 1", res.Inventory["coins"])
	}

	// The inventory update precedes the coin's sound effect.
	invIdx, sfxIdx := -1, -1
	for i, m := range g.queue.Sent() {
		switch {
		case m.Type == messaging.TypeInventory && invIdx == -1:
			invIdx = i
		case m.Type == messaging.TypeSoundEffect && sfxIdx == -1:
			sfxIdx = i
		}
	}
	if invIdx == -1 || sfxIdx == -1 {
		t.Fatalf("missing events, inventory at %d, sound at %d", invIdx, sfxIdx)
	}
	if invIdx > sfxIdx {
		t.Errorf("inventory event at %d after sound event at %d", invIdx, sfxIdx)
	}
}

// ── failure paths ───────────────────────────────────────────────────

func TestHookVetoAddsFailureSuffix(t *testing.T) {
	g := newTestGame(t, 0)
	g.machine.AddHook(func(a *statemachine.Action) bool {
		return a.Name != "forbidden"
	})
	g.model.EnqueueSelection("forbidden", "You reach for the lever.")

	res, err := g.ctrl.ProcessTurn(context.Background(), "pull the lever")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	want := `You reach for the lever. (failed: action "forbidden" was blocked)`
	if res.Narrative != want {
		t.Errorf("narrative = %q\nwant %q", res.Narrative, want)
	}
	if res.ExecutedAction != "" {
		t.Errorf("executed = %q, want none", res.ExecutedAction)
	}
	if g.machine.CurrentStateName() != "gate" {
		t.Error("a vetoed action must not change state")
	}
	if len(g.queue.SentOfType(messaging.TypeInventory)) != 0 {
		t.Error("a vetoed action must not touch the inventory")
	}

	entries := g.ctrl.History().Entries()
	if len(entries) != 1 || entries[0].Success {
		t.Errorf("history = %+v, want one failed entry", entries)
	}
}

func TestHallucinatedActionBecomesNoAction(t *testing.T) {
	g := newTestGame(t, 0)
	g.model.EnqueueSelection("teleport_to_mars", "Off we go!")

	res, err := g.ctrl.ProcessTurn(context.Background(), "teleport me to mars")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Narrative != "Off we go!" {
		t.Errorf("narrative = %q, want the model's text preserved", res.Narrative)
	}
	if res.ExecutedAction != "" {
		t.Errorf("executed = %q, want none", res.ExecutedAction)
	}
	if g.machine.CurrentStateName() != "gate" {
		t.Error("a hallucinated action must not change state")
	}

	entries := g.ctrl.History().Entries()
	if len(entries) != 1 {
		t.Fatalf("history length = %d, want 1", len(entries))
	}
	if entries[0].Chosen != llm.NoActionName {
		t.Errorf("history chosen = %q, want %q", entries[0].Chosen, llm.NoActionName)
	}
}

func TestModelTimeoutLeavesNoTrace(t *testing.T) {
	g := newTestGame(t, 20*time.Millisecond)
	g.model.Delay = time.Second

	res, err := g.ctrl.ProcessTurn(context.Background(), "hello?")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Narrative == "" {
		t.Fatal("a timed-out turn still owes the player a narrative")
	}
	if res.ExecutedAction != "" {
		t.Error("a timed-out turn must not execute anything")
	}
	if res.CurrentState != "gate" {
		t.Errorf("result state = %q, want the unchanged gate", res.CurrentState)
	}
	if g.ctrl.History().Len() != 0 {
		t.Error("a timed-out turn must not be recorded in history")
	}
	if g.machine.CurrentStateName() != "gate" {
		t.Error("a timed-out turn must not change state")
	}
	if len(g.queue.SentOfType(messaging.TypeError)) != 1 {
		t.Error("expected one error event on the queue")
	}
}

func TestBusyTurnIsRejected(t *testing.T) {
	g := newTestGame(t, time.Second)
	g.model.Delay = 200 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.ctrl.ProcessTurn(context.Background(), "first")
	}()

	// Let the first turn reach the model call.
	time.Sleep(50 * time.Millisecond)

	if _, err := g.ctrl.ProcessTurn(context.Background(), "second"); err != controller.ErrBusy {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	<-done
}

// ── speech dispatch ─────────────────────────────────────────────────

func TestNarrativeIsSpoken(t *testing.T) {
	g := newTestGame(t, 0)
	g.model.EnqueueSelection(llm.NoActionName, "The gate stays shut.")

	if _, err := g.ctrl.ProcessTurn(context.Background(), "open up"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	// The previous utterance is interrupted synchronously.
	if len(g.speech.Stops()) != 1 {
		t.Errorf("stops = %d, want 1", len(g.speech.Stops()))
	}

	// Synthesis runs in the background.
	deadline := time.Now().Add(time.Second)
	for len(g.speech.Speaks()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("narrative was never spoken")
		}
		time.Sleep(time.Millisecond)
	}
	speaks := g.speech.Speaks()
	if speaks[0].Text != "The gate stays shut." {
		t.Errorf("spoken text = %q", speaks[0].Text)
	}
}
