package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"fabula/internal/engine"
	"fabula/internal/gamedef"
	"fabula/internal/jukebox"
	"fabula/internal/messaging"
	"fabula/internal/session"
	"fabula/internal/transport/ws"
	"fabula/pkg/provider/llm"
	llmmock "fabula/pkg/provider/llm/mock"
)

type modelClient struct {
	p llm.Provider
}

func (m modelClient) ChatWithFunctions(ctx context.Context, messages []llm.Message, functions []llm.Function, basePrompt string) (*llm.Response, error) {
	return llm.ChatWithFunctions(ctx, m.p, messages, functions, basePrompt)
}

// gateModel is a two-state world with one transition.
func gateModel() *gamedef.Model {
	return &gamedef.Model{
		States: []gamedef.StateEntry{
			{ID: "n1", State: gamedef.StateDef{
				Name:      "gate",
				StateType: "START",
				UserData: gamedef.StateData{
					SystemPrompt: "A gate.",
					AmbientSound: "wind.ogg",
				},
			}},
			{ID: "n2", State: gamedef.StateDef{
				Name:     "room",
				UserData: gamedef.StateData{SystemPrompt: "A room."},
			}},
		},
		Connections: []gamedef.ConnectionEntry{
			{ID: "c1", Connection: gamedef.ConnectionDef{
				Name:     "go",
				Source:   gamedef.Endpoint{Node: "n1"},
				Target:   gamedef.Endpoint{Node: "n2"},
				UserData: gamedef.ConnectionData{Description: "Walk through."},
			}},
		},
	}
}

// newTestServer wires a real engine behind the WebSocket handler, with the
// scripted model shared across sessions.
func newTestServer(t *testing.T) (*httptest.Server, *llmmock.Provider) {
	srv, model, _ := newTestServerWithSink(t)
	return srv, model
}

func newTestServerWithSink(t *testing.T) (*httptest.Server, *llmmock.Provider, *ws.AudioSink) {
	t.Helper()
	model := &llmmock.Provider{}

	manager, err := session.NewManager(session.ManagerConfig{
		Factory: func(sessionID string, queue messaging.Queue) (*engine.Engine, error) {
			return engine.New(engine.Config{
				SessionID: sessionID,
				Model:     gateModel(),
				GameConfig: &gamedef.Config{
					WelcomePrompt: "Greet the traveller.",
					Inventory:     []gamedef.InventoryItem{{Key: "coins", Value: 2}},
				},
				Chat:    modelClient{p: model},
				Queue:   queue,
				Jukebox: jukebox.NewWeb(queue),
			})
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(manager.Shutdown)

	sink := ws.NewAudioSink()
	handler, err := ws.NewHandler(manager, sink)
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	handler.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, model, sink
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

// readFrame reads and decodes one outbound frame.
func readFrame(t *testing.T, conn *websocket.Conn) messaging.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg messaging.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want messaging.Type) messaging.Message {
	t.Helper()
	for range 10 {
		if msg := readFrame(t, conn); msg.Type == want {
			return msg
		}
	}
	t.Fatalf("no %q frame arrived", want)
	return messaging.Message{}
}

func send(t *testing.T, conn *websocket.Conn, cmd ws.Command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// ── connection ──────────────────────────────────────────────────────

func TestConnectStartsTheStory(t *testing.T) {
	srv, model := newTestServer(t)
	model.EnqueueSelection(llm.NoActionName, "Welcome, traveller.")

	conn := dial(t, srv, "")

	ambient := readUntil(t, conn, messaging.TypeAmbient)
	if ambient.Sound == nil || ambient.Sound.File != "wind.ogg" {
		t.Errorf("ambient frame = %+v", ambient)
	}
	text := readUntil(t, conn, messaging.TypeText)
	if text.Text != "Welcome, traveller." {
		t.Errorf("welcome narrative = %q", text.Text)
	}
}

func TestPlayerTurnOverTheSocket(t *testing.T) {
	srv, model := newTestServer(t)
	model.EnqueueSelection(llm.NoActionName, "Welcome.")
	model.EnqueueSelection("go", "You step through.")

	conn := dial(t, srv, "")
	readUntil(t, conn, messaging.TypeText)

	send(t, conn, ws.Command{Type: ws.CommandInput, Text: "I walk through the gate"})

	change := readUntil(t, conn, messaging.TypeStateChange)
	if change.StateChange.Previous != "gate" || change.StateChange.Current != "room" || change.StateChange.Action != "go" {
		t.Errorf("state change = %+v", change.StateChange)
	}
	text := readUntil(t, conn, messaging.TypeText)
	if text.Text != "You step through." {
		t.Errorf("narrative = %q", text.Text)
	}
}

func TestBareTextFrameIsPlayerInput(t *testing.T) {
	srv, model := newTestServer(t)
	model.EnqueueSelection(llm.NoActionName, "Welcome.")
	model.EnqueueSelection(llm.NoActionName, "The gate stays shut.")

	conn := dial(t, srv, "")
	readUntil(t, conn, messaging.TypeText)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("open the gate")); err != nil {
		t.Fatal(err)
	}

	text := readUntil(t, conn, messaging.TypeText)
	if text.Text != "The gate stays shut." {
		t.Errorf("narrative = %q", text.Text)
	}
}

func TestUnknownCommandReportsProtocolError(t *testing.T) {
	srv, model := newTestServer(t)
	model.EnqueueSelection(llm.NoActionName, "Welcome.")

	conn := dial(t, srv, "")
	readUntil(t, conn, messaging.TypeText)

	send(t, conn, ws.Command{Type: "dance"})

	errFrame := readUntil(t, conn, messaging.TypeError)
	if errFrame.Error.Kind != "protocol" {
		t.Errorf("error frame = %+v", errFrame.Error)
	}
}

// ── authoring ───────────────────────────────────────────────────────

func TestSetInventoryOverTheSocket(t *testing.T) {
	srv, model := newTestServer(t)
	model.EnqueueSelection(llm.NoActionName, "Welcome.")

	conn := dial(t, srv, "?session=author-1")
	readUntil(t, conn, messaging.TypeText)

	send(t, conn, ws.Command{Type: ws.CommandSetInventory, Key: "coins", Value: 9})

	update := readUntil(t, conn, messaging.TypeInventory)
	if update.Inventory["coins"] != float64(9) {
		t.Errorf("coins = %v (%T)", update.Inventory["coins"], update.Inventory["coins"])
	}
}

func TestSetStateErrorComesBackOnTheStream(t *testing.T) {
	srv, model := newTestServer(t)
	model.EnqueueSelection(llm.NoActionName, "Welcome.")

	conn := dial(t, srv, "")
	readUntil(t, conn, messaging.TypeText)

	send(t, conn, ws.Command{Type: ws.CommandSetState, State: "rom"})

	errFrame := readUntil(t, conn, messaging.TypeError)
	if errFrame.Error.Kind != "authoring" || !strings.Contains(errFrame.Error.Details, "did you mean") {
		t.Errorf("error frame = %+v", errFrame.Error)
	}
}

// ── status route ────────────────────────────────────────────────────

func TestStatusRoute(t *testing.T) {
	srv, model := newTestServer(t)
	model.EnqueueSelection(llm.NoActionName, "Welcome.")

	conn := dial(t, srv, "?session=author-2")
	readUntil(t, conn, messaging.TypeText)

	resp, err := http.Get(srv.URL + "/sessions/author-2/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var status struct {
		CurrentState     string   `json:"current_state"`
		AvailableActions []string `json:"available_actions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.CurrentState != "gate" {
		t.Errorf("current_state = %q", status.CurrentState)
	}
	if len(status.AvailableActions) != 1 || status.AvailableActions[0] != "go" {
		t.Errorf("available_actions = %v", status.AvailableActions)
	}

	_ = conn
}

func TestStatusRouteUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/sessions/nobody/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionListing(t *testing.T) {
	srv, model := newTestServer(t)
	model.EnqueueSelection(llm.NoActionName, "Welcome.")
	model.EnqueueSelection(llm.NoActionName, "Welcome.")

	first := dial(t, srv, "?session=list-a")
	readUntil(t, first, messaging.TypeText)
	second := dial(t, srv, "?session=list-b")
	readUntil(t, second, messaging.TypeText)

	resp, err := http.Get(srv.URL + "/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var infos []struct {
		ID           string    `json:"id"`
		CreatedAt    time.Time `json:"created_at"`
		CurrentState string    `json:"current_state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].ID != "list-a" || infos[1].ID != "list-b" {
		t.Fatalf("listing = %+v, want list-a and list-b", infos)
	}
	for _, info := range infos {
		if info.CreatedAt.IsZero() {
			t.Errorf("session %q has no creation time", info.ID)
		}
		if info.CurrentState != "gate" {
			t.Errorf("session %q state = %q, want gate", info.ID, info.CurrentState)
		}
	}
}

// ── speech streaming ────────────────────────────────────────────────

func TestSpeechStreamsAsBinaryFrames(t *testing.T) {
	srv, model, sink := newTestServerWithSink(t)
	model.EnqueueSelection(llm.NoActionName, "Welcome.")

	conn := dial(t, srv, "?session=audio-1")
	readUntil(t, conn, messaging.TypeText)

	if err := sink.Write("audio-1", []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if kind != websocket.MessageBinary {
			continue
		}
		if len(data) != 3 || data[0] != 0x01 {
			t.Errorf("binary frame = %v", data)
		}
		return
	}
}

func TestSinkDropsChunksForUnknownSessions(t *testing.T) {
	sink := ws.NewAudioSink()
	if err := sink.Write("nobody", []byte{0xff}); err != nil {
		t.Errorf("Write = %v, want nil", err)
	}
	if err := sink.Close("nobody"); err != nil {
		t.Errorf("Close = %v, want nil", err)
	}
}

func TestDuplicateSessionIDRejected(t *testing.T) {
	srv, model := newTestServer(t)
	model.EnqueueSelection(llm.NoActionName, "Welcome.")

	conn := dial(t, srv, "?session=dup")
	readUntil(t, conn, messaging.TypeText)

	second := dial(t, srv, "?session=dup")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := second.Read(ctx); err == nil {
		t.Error("expected the duplicate connection to be closed")
	}

	_ = conn
}
