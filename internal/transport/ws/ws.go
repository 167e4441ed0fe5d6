// Package ws is the WebSocket transport of the fabula server. One socket is
// one game session: connecting creates the session and starts the story,
// inbound text frames are player turns or authoring commands, and everything
// the game core emits on its queue is streamed back as JSON frames.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"fabula/internal/controller"
	"fabula/internal/messaging"
	"fabula/internal/session"
)

// Inbound command types.
const (
	// CommandInput is one turn of player input.
	CommandInput = "input"

	// CommandSetState jumps the game into a named state (authoring).
	CommandSetState = "set_state"

	// CommandSetInventory pokes one game variable (authoring).
	CommandSetInventory = "set_inventory"
)

// Command is one inbound client frame. A frame that is not valid JSON is
// treated as a bare CommandInput with the raw text as the player's input.
type Command struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	State string `json:"state,omitempty"`
	Key   string `json:"key,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Handler serves the game over WebSocket plus the session listing and the
// per-session status route.
type Handler struct {
	manager *session.Manager
	sink    *AudioSink
}

// NewHandler creates a Handler on top of the session manager. When sink is
// non-nil, each connection is attached to it so synthesised speech streams
// out as binary frames.
func NewHandler(manager *session.Manager, sink *AudioSink) (*Handler, error) {
	if manager == nil {
		return nil, fmt.Errorf("ws: session manager is required")
	}
	return &Handler{manager: manager, sink: sink}, nil
}

// Register adds the transport's routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleWS)
	mux.HandleFunc("GET /sessions", h.handleSessions)
	mux.HandleFunc("GET /sessions/{id}/status", h.handleStatus)
}

// handleWS upgrades the connection, creates the session, and runs the story
// until the client goes away. The optional "session" query parameter names
// the session; without it a random ID is assigned.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("ws: accept failed", "err", err)
		return
	}

	id := r.URL.Query().Get("session")
	if id == "" {
		id = uuid.NewString()
	}
	s, err := h.manager.Create(id)
	if err != nil {
		slog.Warn("ws: session create failed", "session_id", id, "err", err)
		conn.Close(websocket.StatusPolicyViolation, "session unavailable")
		return
	}
	defer h.manager.Remove(id)

	if h.sink != nil {
		h.sink.Attach(id, conn)
		defer h.sink.Detach(id)
	}

	ctx := r.Context()
	go writeLoop(ctx, conn, s.Queue.Messages())

	// The story begins the moment the client connects: welcome narrative
	// and the initial state's ambient sound arrive as the first frames.
	if _, err := s.Engine.StartGame(ctx); err != nil {
		slog.Error("ws: start game failed", "session_id", id, "err", err)
		conn.Close(websocket.StatusInternalError, "game start failed")
		return
	}

	h.readLoop(ctx, conn, s)
	conn.Close(websocket.StatusNormalClosure, "session closed")
}

// readLoop consumes client frames until the connection drops. Turns run
// inline, so one socket processes its turns strictly in order.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, s *session.Session) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				slog.Debug("ws: client disconnected", "session_id", s.ID)
			} else {
				slog.Warn("ws: read failed", "session_id", s.ID, "err", err)
			}
			return
		}
		s.Touch()

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			cmd = Command{Type: CommandInput, Text: string(data)}
		}
		h.dispatch(ctx, s, cmd)
	}
}

// dispatch runs one client command. Failures are reported on the session's
// queue so the client sees them in stream order.
func (h *Handler) dispatch(ctx context.Context, s *session.Session, cmd Command) {
	switch cmd.Type {
	case CommandInput, "":
		if cmd.Text == "" {
			return
		}
		if _, err := s.Engine.ProcessInput(ctx, cmd.Text); err != nil {
			if errors.Is(err, controller.ErrBusy) {
				s.Queue.Send(messaging.ErrorMessage("busy", "a turn is already being processed"))
				return
			}
			slog.Error("ws: turn failed", "session_id", s.ID, "err", err)
			s.Queue.Send(messaging.ErrorMessage("turn", err.Error()))
		}
	case CommandSetState:
		if err := s.Engine.SetState(cmd.State, nil, nil); err != nil {
			s.Queue.Send(messaging.ErrorMessage("authoring", err.Error()))
		}
	case CommandSetInventory:
		if err := s.Engine.SetInventory(cmd.Key, cmd.Value); err != nil {
			s.Queue.Send(messaging.ErrorMessage("authoring", err.Error()))
		}
	default:
		s.Queue.Send(messaging.ErrorMessage("protocol", fmt.Sprintf("unknown command %q", cmd.Type)))
	}
}

// writeLoop streams queue messages to the client until the queue closes or
// the connection dies. Encode failures skip the message; write failures end
// the loop, the read side notices the dead socket on its own.
func writeLoop(ctx context.Context, conn *websocket.Conn, messages <-chan messaging.Message) {
	for msg := range messages {
		data, err := msg.Encode()
		if err != nil {
			slog.Error("ws: encode failed", "type", msg.Type, "err", err)
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
	}
}

// sessionInfo is one row of the session listing.
type sessionInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	CurrentState string    `json:"current_state"`
}

// handleSessions lists the live sessions for the authoring tool. The engine
// is only asked for its status snapshot, never driven from here.
func (h *Handler) handleSessions(w http.ResponseWriter, _ *http.Request) {
	infos := make([]sessionInfo, 0, h.manager.Len())
	h.manager.Each(func(s *session.Session) {
		infos = append(infos, sessionInfo{
			ID:           s.ID,
			CreatedAt:    s.CreatedAt(),
			LastActive:   s.LastActive(),
			CurrentState: s.Engine.CurrentState(),
		})
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		slog.Error("ws: session list encode failed", "err", err)
	}
}

// handleStatus serves the authoring snapshot of a live session.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, ok := h.manager.Get(id)
	if !ok {
		http.Error(w, `{"error":"unknown session"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(s.Engine.Status()); err != nil {
		slog.Error("ws: status encode failed", "session_id", id, "err", err)
	}
}
